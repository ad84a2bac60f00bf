package contracts

import (
	"errors"
	"testing"
)

func TestEventDescriptorValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   EventDescriptor
		wantErr bool
	}{
		{
			name:  "push to main",
			event: EventDescriptor{Kind: KindPush, Ref: "refs/heads/main"},
		},
		{
			name:  "release tag",
			event: EventDescriptor{Kind: KindRelease, Ref: "refs/tags/v1.2.0", Action: "published"},
		},
		{
			name:  "pull request merge ref",
			event: EventDescriptor{Kind: KindPullRequest, Ref: "refs/pull/7/merge", Action: "opened"},
		},
		{
			name:    "unknown kind",
			event:   EventDescriptor{Kind: "schedule", Ref: "refs/heads/main"},
			wantErr: true,
		},
		{
			name:    "empty ref",
			event:   EventDescriptor{Kind: KindPush},
			wantErr: true,
		},
		{
			name:    "short ref",
			event:   EventDescriptor{Kind: KindPush, Ref: "main"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var cfgErr *ConfigurationError
				if !errors.As(err, &cfgErr) {
					t.Errorf("Validate() returned %T, want *ConfigurationError", err)
				}
			}
		})
	}
}

func TestEventDescriptorRefHelpers(t *testing.T) {
	tag := EventDescriptor{Kind: KindRelease, Ref: "refs/tags/v1.2.0"}
	if !tag.IsTag() {
		t.Error("IsTag() = false for tag ref")
	}
	if got := tag.TagName(); got != "v1.2.0" {
		t.Errorf("TagName() = %q, want %q", got, "v1.2.0")
	}
	if got := tag.BranchName(); got != "" {
		t.Errorf("BranchName() = %q, want empty", got)
	}

	branch := EventDescriptor{Kind: KindPush, Ref: "refs/heads/main"}
	if branch.IsTag() {
		t.Error("IsTag() = true for branch ref")
	}
	if got := branch.BranchName(); got != "main" {
		t.Errorf("BranchName() = %q, want %q", got, "main")
	}

	bare := EventDescriptor{Kind: KindPush, Ref: "refs/tags/"}
	if bare.IsTag() {
		t.Error("IsTag() = true for empty tag name")
	}
}

func TestParseEventKind(t *testing.T) {
	for _, name := range []string{"release", "pull_request", "push", " push "} {
		if _, err := ParseEventKind(name); err != nil {
			t.Errorf("ParseEventKind(%q) error = %v", name, err)
		}
	}
	if _, err := ParseEventKind("workflow_dispatch"); err == nil {
		t.Error("ParseEventKind(workflow_dispatch) expected error")
	}
}

func TestArtifactDigestIgnoresOrder(t *testing.T) {
	a := &Artifact{Name: "dist", Files: []ArtifactFile{
		{Path: "dist/a.whl", Content: []byte("a")},
		{Path: "dist/b.tar.gz", Content: []byte("b")},
	}}
	b := &Artifact{Name: "dist", Files: []ArtifactFile{
		{Path: "dist/b.tar.gz", Content: []byte("b")},
		{Path: "dist/a.whl", Content: []byte("a")},
	}}
	if a.Digest() != b.Digest() {
		t.Error("Digest() differs for same files in different order")
	}

	b.Files[0].Content = []byte("changed")
	if a.Digest() == b.Digest() {
		t.Error("Digest() equal after content change")
	}
	if a.Size() != 2 {
		t.Errorf("Size() = %d, want 2", a.Size())
	}
}
