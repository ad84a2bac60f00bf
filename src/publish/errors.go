// Package publish checks distributions before upload and turns upload
// failures into errors a release manager can act on.
package publish

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"relayci/src/runner"
)

var (
	ErrAuthRejected        = errors.New("package index rejected the credentials")
	ErrVersionConflict     = errors.New("version already exists on the package index")
	ErrInvalidDistribution = errors.New("invalid distribution")
)

// Reason classifies a rejected publish.
type Reason string

const (
	ReasonAuth            Reason = "auth"
	ReasonVersionConflict Reason = "version_conflict"
	ReasonValidation      Reason = "validation"
)

// Rejected wraps a publish failure with a user-friendly message.
type Rejected struct {
	Reason  Reason
	Message string
	Hint    string
	Err     error
}

func (e *Rejected) Error() string {
	msg := e.Message
	if e.Hint != "" {
		msg += "\n\nHint: " + e.Hint
	}
	if e.Err != nil {
		msg += fmt.Sprintf("\n\nDetails: %v", e.Err)
	}
	return msg
}

// Unwrap exposes both the reason sentinel and the underlying failure.
func (e *Rejected) Unwrap() []error {
	errs := []error{e.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *Rejected) sentinel() error {
	switch e.Reason {
	case ReasonAuth:
		return ErrAuthRejected
	case ReasonVersionConflict:
		return ErrVersionConflict
	default:
		return ErrInvalidDistribution
	}
}

var (
	authPattern     = regexp.MustCompile(`(?i)\b(403|401)\b|invalid or non-existent authentication|invalid api token|forbidden|not allowed to upload`)
	conflictPattern = regexp.MustCompile(`(?i)file already exists|400 .*already exists|this filename has already been used`)
)

// Classify converts a failed publish stage into a *Rejected. Errors that are
// not stage failures are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var failed *runner.StageFailed
	if !errors.As(err, &failed) {
		return err
	}

	output := failed.Output
	switch {
	case conflictPattern.MatchString(output):
		return &Rejected{
			Reason:  ReasonVersionConflict,
			Message: "Version already published",
			Hint:    "Package indexes never accept the same file twice. Bump the version and tag a new release.",
			Err:     err,
		}
	case authPattern.MatchString(output):
		return &Rejected{
			Reason:  ReasonAuth,
			Message: "Package index rejected the upload credentials",
			Hint:    "Check that trusted publishing is configured for this repository and workflow,\n  or that PYPI_API_TOKEN is valid and scoped to this project.",
			Err:     err,
		}
	default:
		msg := "Publish failed"
		if line := lastLine(output); line != "" {
			msg += ": " + line
		}
		return &Rejected{
			Reason:  ReasonValidation,
			Message: msg,
			Hint:    "Run `python -m twine check dist/*` locally to validate the distribution metadata.",
			Err:     err,
		}
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
