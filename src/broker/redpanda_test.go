package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/twmb/franz-go/pkg/kgo"
)

// franz-go dials lazily, so construction and Close need no running cluster.
func TestNewRedpandaBroker_Options(t *testing.T) {
	if _, err := NewRedpandaBroker(nil, nil); err == nil {
		t.Fatal("expected error for empty broker list")
	}

	b, err := NewRedpandaBroker([]string{"localhost:1"}, nil,
		WithLiveTopics("relayci.run-events"),
		WithClientOptions(kgo.ClientID("relayci-test")),
	)
	if err != nil {
		t.Fatalf("NewRedpandaBroker: %v", err)
	}

	if !b.live["relayci.run-events"] || b.live["relayci.run-requests"] {
		t.Errorf("live topics = %v", b.live)
	}
	if len(b.clientOpts) != 1 {
		t.Errorf("client options = %d, want 1", len(b.clientOpts))
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := b.Publish(context.Background(), "t", "k", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish after Close: got %v, want ErrClosed", err)
	}
	if _, err := b.Subscribe(context.Background(), "t", "g"); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe after Close: got %v, want ErrClosed", err)
	}
}
