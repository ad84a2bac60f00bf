package main

import (
	"errors"

	"github.com/spf13/cobra"

	"relayci/src/contracts"
	"relayci/src/githubactions"
)

// eventFlags are the flags shared by commands that take a triggering event.
type eventFlags struct {
	kind    string
	ref     string
	action  string
	sha     string
	fromEnv bool
}

func (f *eventFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.kind, "event", "e", "", "Event kind: release, pull_request or push")
	cmd.Flags().StringVarP(&f.ref, "ref", "r", "", "Git ref, e.g. refs/tags/v1.2.0")
	cmd.Flags().StringVarP(&f.action, "action", "a", "", "Event action, e.g. published")
	cmd.Flags().StringVar(&f.sha, "sha", "", "Commit SHA")
	cmd.Flags().BoolVar(&f.fromEnv, "from-env", false, "Read the event from the GitHub Actions environment")
	cmd.MarkFlagsMutuallyExclusive("from-env", "event")
}

// resolve builds the event from the GitHub environment or from flags.
func (f *eventFlags) resolve(getenv func(string) string) (contracts.EventDescriptor, error) {
	if f.fromEnv {
		return githubactions.EventFromEnv(getenv)
	}
	if f.kind == "" {
		return contracts.EventDescriptor{}, errors.New("either --event with --ref, or --from-env is required")
	}

	kind, err := contracts.ParseEventKind(f.kind)
	if err != nil {
		return contracts.EventDescriptor{}, err
	}
	ev := contracts.EventDescriptor{
		Kind:   kind,
		Ref:    f.ref,
		Action: f.action,
		SHA:    f.sha,
	}
	if err := ev.Validate(); err != nil {
		return contracts.EventDescriptor{}, err
	}
	return ev, nil
}
