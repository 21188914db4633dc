package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/openedtech/tutorcore/internal/logger"
)

func TestPublishReachesAllTopicSubscribers(t *testing.T) {
	bus := NewMemoryBus(logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := bus.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	b, err := bus.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	other, err := bus.Subscribe(ctx, "u2")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	env := NewResult(TypeChatResult, "task-1", "hello")
	if err := bus.Publish(ctx, "u1", env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for name, ch := range map[string]<-chan Envelope{"a": a, "b": b} {
		select {
		case got := <-ch:
			if got.TaskID != "task-1" || got.Message != "hello" {
				t.Fatalf("%s: wrong envelope: %+v", name, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: no delivery", name)
		}
	}
	select {
	case got := <-other:
		t.Fatalf("cross-topic delivery: %+v", got)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPerTopicOrderPreserved(t *testing.T) {
	bus := NewMemoryBus(logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := bus.Publish(ctx, "u1", NewResult(TypeChatResult, fmt.Sprintf("t%d", i), "")); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	for i := 0; i < 10; i++ {
		select {
		case got := <-ch:
			if want := fmt.Sprintf("t%d", i); got.TaskID != want {
				t.Fatalf("out of order: got %s want %s", got.TaskID, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing envelope %d", i)
		}
	}
}

func TestSubscribeChannelClosesOnCancel(t *testing.T) {
	bus := NewMemoryBus(logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()

	select {
	case _, open := <-ch:
		if open {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel did not close")
	}

	// Publishing after the only subscriber left must not error.
	if err := bus.Publish(context.Background(), "u1", NewResult(TypeChatResult, "t", "")); err != nil {
		t.Fatalf("publish to empty topic: %v", err)
	}
}

func TestErrorEnvelopeShape(t *testing.T) {
	env := NewError("task-9", "internal", "Something went wrong, please retry.")
	if env.Type != TypeTaskError {
		t.Fatalf("type: %q", env.Type)
	}
	if env.Error == nil || env.Error.Code != "internal" {
		t.Fatalf("error payload: %+v", env.Error)
	}
	if env.Message != "" {
		t.Fatal("error envelopes carry no message field")
	}
	if _, err := time.Parse(time.RFC3339Nano, env.Timestamp); err != nil {
		t.Fatalf("timestamp format: %v", err)
	}
}
