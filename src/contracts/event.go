package contracts

import (
	"fmt"
	"strings"
)

// EventKind is the repository event that triggered a run.
type EventKind string

const (
	KindRelease     EventKind = "release"
	KindPullRequest EventKind = "pull_request"
	KindPush        EventKind = "push"
)

// ParseEventKind converts an event name into an EventKind.
func ParseEventKind(name string) (EventKind, error) {
	switch k := EventKind(strings.TrimSpace(name)); k {
	case KindRelease, KindPullRequest, KindPush:
		return k, nil
	default:
		return "", &ConfigurationError{Field: "kind", Reason: fmt.Sprintf("unsupported event kind %q", name)}
	}
}

// ActionDeleted marks a push that removed its ref.
const ActionDeleted = "deleted"

const (
	tagRefPrefix    = "refs/tags/"
	branchRefPrefix = "refs/heads/"
)

// EventDescriptor describes the triggering event of a run. It is created once
// per invocation and never mutated.
type EventDescriptor struct {
	Kind   EventKind `json:"kind"`
	Ref    string    `json:"ref"`
	Action string    `json:"action,omitempty"`
	SHA    string    `json:"sha,omitempty"`
}

// Validate reports a ConfigurationError for malformed descriptors.
func (e EventDescriptor) Validate() error {
	if _, err := ParseEventKind(string(e.Kind)); err != nil {
		return err
	}
	if strings.TrimSpace(e.Ref) == "" {
		return &ConfigurationError{Field: "ref", Reason: "ref is required"}
	}
	if !strings.HasPrefix(e.Ref, "refs/") {
		return &ConfigurationError{Field: "ref", Reason: fmt.Sprintf("ref %q is not fully qualified (expected refs/...)", e.Ref)}
	}
	return nil
}

// IsTag reports whether the ref points at a tag.
func (e EventDescriptor) IsTag() bool {
	return strings.HasPrefix(e.Ref, tagRefPrefix) && len(e.Ref) > len(tagRefPrefix)
}

// TagName returns the short tag name, or "" for non-tag refs.
func (e EventDescriptor) TagName() string {
	if !e.IsTag() {
		return ""
	}
	return strings.TrimPrefix(e.Ref, tagRefPrefix)
}

// BranchName returns the short branch name, or "" for non-branch refs.
func (e EventDescriptor) BranchName() string {
	if !strings.HasPrefix(e.Ref, branchRefPrefix) {
		return ""
	}
	return strings.TrimPrefix(e.Ref, branchRefPrefix)
}

func (e EventDescriptor) String() string {
	if e.Action != "" {
		return fmt.Sprintf("%s/%s (%s)", e.Kind, e.Action, e.Ref)
	}
	return fmt.Sprintf("%s (%s)", e.Kind, e.Ref)
}

// ConfigurationError reports a bad trigger definition or event descriptor.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}
