package publish

import (
	"fmt"
	"path"
	"strings"

	"relayci/src/contracts"
)

var distributionSuffixes = []string{".whl", ".tar.gz", ".zip"}

// IsDistribution reports whether p names an uploadable distribution file.
func IsDistribution(p string) bool {
	base := path.Base(p)
	for _, suffix := range distributionSuffixes {
		if strings.HasSuffix(base, suffix) && len(base) > len(suffix) {
			return true
		}
	}
	return false
}

// Verify checks that an artifact holds only non-empty distribution files.
func Verify(artifact *contracts.Artifact) error {
	if artifact == nil || len(artifact.Files) == 0 {
		return &Rejected{
			Reason:  ReasonValidation,
			Message: "Nothing to publish",
			Hint:    "The build stage must leave wheels or sdists in its declared outputs (dist/).",
			Err:     ErrInvalidDistribution,
		}
	}

	for _, f := range artifact.Files {
		if !IsDistribution(f.Path) {
			return &Rejected{
				Reason:  ReasonValidation,
				Message: fmt.Sprintf("Artifact %s contains %s, which is not a distribution", artifact.Name, f.Path),
				Hint:    "Only .whl, .tar.gz and .zip files can be uploaded; narrow the build stage outputs.",
				Err:     ErrInvalidDistribution,
			}
		}
		if len(f.Content) == 0 {
			return &Rejected{
				Reason:  ReasonValidation,
				Message: fmt.Sprintf("Distribution %s is empty", f.Path),
				Err:     ErrInvalidDistribution,
			}
		}
	}
	return nil
}
