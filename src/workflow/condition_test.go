package workflow

import (
	"testing"

	"relayci/src/contracts"
)

func TestConditionMatches(t *testing.T) {
	push := contracts.EventDescriptor{Kind: contracts.KindPush, Ref: "refs/heads/main"}
	release := contracts.EventDescriptor{Kind: contracts.KindRelease, Ref: "refs/tags/v1.2.0", Action: "published"}
	pr := contracts.EventDescriptor{Kind: contracts.KindPullRequest, Ref: "refs/pull/12/merge", Action: "opened"}

	tests := []struct {
		expr  string
		event contracts.EventDescriptor
		want  bool
	}{
		{expr: "", event: push, want: true},
		{expr: "always", event: pr, want: true},
		{expr: "tag", event: release, want: true},
		{expr: "tag", event: push, want: false},
		{expr: "tag:v*", event: release, want: true},
		{expr: "tag:rc-*", event: release, want: false},
		{expr: "branch:main", event: push, want: true},
		{expr: "branch:release/*", event: push, want: false},
		{expr: "branch:main", event: pr, want: false},
		{expr: "event:pull_request", event: pr, want: true},
		{expr: "action:published", event: release, want: true},
		{expr: "event:release && tag:v1.*", event: release, want: true},
		{expr: "event:push && tag", event: push, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.expr+"/"+string(tt.event.Kind), func(t *testing.T) {
			cond, err := ParseCondition(tt.expr)
			if err != nil {
				t.Fatalf("ParseCondition(%q) error = %v", tt.expr, err)
			}
			if got := cond.Matches(tt.event); got != tt.want {
				t.Errorf("Matches(%s) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}

func TestParseConditionErrors(t *testing.T) {
	for _, expr := range []string{"branch", "tag:", "event:schedule", "always:yes", "tag && ", "tag:[", "whenever"} {
		t.Run(expr, func(t *testing.T) {
			if _, err := ParseCondition(expr); err == nil {
				t.Errorf("ParseCondition(%q) expected error", expr)
			}
		})
	}
}

func TestTriggersAccepts(t *testing.T) {
	wf := Default()

	tests := []struct {
		name  string
		event contracts.EventDescriptor
		want  bool
	}{
		{name: "push main", event: contracts.EventDescriptor{Kind: contracts.KindPush, Ref: "refs/heads/main"}, want: true},
		{name: "push main deleted", event: contracts.EventDescriptor{Kind: contracts.KindPush, Ref: "refs/heads/main", Action: contracts.ActionDeleted}, want: false},
		{name: "push feature", event: contracts.EventDescriptor{Kind: contracts.KindPush, Ref: "refs/heads/feature"}, want: false},
		{name: "push tag", event: contracts.EventDescriptor{Kind: contracts.KindPush, Ref: "refs/tags/v1.0.0"}, want: false},
		{name: "release published", event: contracts.EventDescriptor{Kind: contracts.KindRelease, Ref: "refs/tags/v1.2.0", Action: "published"}, want: true},
		{name: "release created waits for published", event: contracts.EventDescriptor{Kind: contracts.KindRelease, Ref: "refs/tags/v1.2.0", Action: "created"}, want: false},
		{name: "release without action", event: contracts.EventDescriptor{Kind: contracts.KindRelease, Ref: "refs/tags/v1.2.0"}, want: true},
		{name: "release deleted", event: contracts.EventDescriptor{Kind: contracts.KindRelease, Ref: "refs/tags/v1.2.0", Action: "deleted"}, want: false},
		{name: "pull request any action", event: contracts.EventDescriptor{Kind: contracts.KindPullRequest, Ref: "refs/pull/3/merge", Action: "closed"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := wf.On.Accepts(tt.event); got != tt.want {
				t.Errorf("Accepts(%s) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}
