package githubactions

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"relayci/src/contracts"
)

// Runner environment variables describing the triggering event.
const (
	EnvEventName = "GITHUB_EVENT_NAME"
	EnvEventPath = "GITHUB_EVENT_PATH"
	EnvRef       = "GITHUB_REF"
	EnvSHA       = "GITHUB_SHA"
)

// EventFromEnv builds the event descriptor of the current Actions job. The
// action, when present, is read from the payload at GITHUB_EVENT_PATH.
func EventFromEnv(getenv func(string) string) (contracts.EventDescriptor, error) {
	name := strings.TrimSpace(getenv(EnvEventName))
	if name == "" {
		return contracts.EventDescriptor{}, &contracts.ConfigurationError{Field: EnvEventName, Reason: "not set; not running under GitHub Actions?"}
	}
	kind, err := contracts.ParseEventKind(name)
	if err != nil {
		return contracts.EventDescriptor{}, err
	}

	ev := contracts.EventDescriptor{
		Kind: kind,
		Ref:  strings.TrimSpace(getenv(EnvRef)),
		SHA:  strings.TrimSpace(getenv(EnvSHA)),
	}

	if path := getenv(EnvEventPath); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return contracts.EventDescriptor{}, fmt.Errorf("read event payload: %w", err)
		}
		var payload actionPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return contracts.EventDescriptor{}, &contracts.ConfigurationError{Field: EnvEventPath, Reason: fmt.Sprintf("invalid event payload: %v", err)}
		}
		ev.Action = payload.Action
	}

	if err := ev.Validate(); err != nil {
		return contracts.EventDescriptor{}, err
	}
	return ev, nil
}

// Supported reports whether eventName is a webhook event relayci can turn into a run.
func Supported(eventName string) bool {
	_, err := contracts.ParseEventKind(eventName)
	return err == nil
}

// ParseWebhook builds an event descriptor from a webhook delivery.
// eventName is the X-GitHub-Event header value.
func ParseWebhook(eventName string, payload []byte) (contracts.EventDescriptor, error) {
	kind, err := contracts.ParseEventKind(eventName)
	if err != nil {
		return contracts.EventDescriptor{}, err
	}

	var ev contracts.EventDescriptor
	switch kind {
	case contracts.KindRelease:
		var p releasePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return contracts.EventDescriptor{}, payloadError(kind, err)
		}
		if p.Release.TagName == "" {
			return contracts.EventDescriptor{}, &contracts.ConfigurationError{Field: "release.tag_name", Reason: "missing from payload"}
		}
		ev = contracts.EventDescriptor{Kind: kind, Ref: "refs/tags/" + p.Release.TagName, Action: p.Action}

	case contracts.KindPullRequest:
		var p pullRequestPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return contracts.EventDescriptor{}, payloadError(kind, err)
		}
		if p.Number <= 0 {
			return contracts.EventDescriptor{}, &contracts.ConfigurationError{Field: "number", Reason: "missing from payload"}
		}
		ev = contracts.EventDescriptor{
			Kind:   kind,
			Ref:    fmt.Sprintf("refs/pull/%d/merge", p.Number),
			Action: p.Action,
			SHA:    p.PullRequest.Head.SHA,
		}

	case contracts.KindPush:
		var p pushPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return contracts.EventDescriptor{}, payloadError(kind, err)
		}
		ev = contracts.EventDescriptor{Kind: kind, Ref: p.Ref, SHA: p.After}
		if p.Deleted {
			ev.Action = contracts.ActionDeleted
		}
	}

	if err := ev.Validate(); err != nil {
		return contracts.EventDescriptor{}, err
	}
	return ev, nil
}

func payloadError(kind contracts.EventKind, err error) error {
	return &contracts.ConfigurationError{Field: "payload", Reason: fmt.Sprintf("invalid %s payload: %v", kind, err)}
}
