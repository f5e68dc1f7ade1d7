package eventbus

import (
	"context"
	"testing"
)

func TestPublishInRegistrationOrder(t *testing.T) {
	bus := New()
	var order []string
	bus.Register(HandlerFunc{
		IDValue: "first",
		Types:   []EventType{EventScoreChanged},
		Fn: func(ctx context.Context, e *Event) error {
			order = append(order, "first")
			return nil
		},
	})
	bus.Register(HandlerFunc{
		IDValue: "second",
		Types:   []EventType{EventScoreChanged},
		Fn: func(ctx context.Context, e *Event) error {
			order = append(order, "second")
			return nil
		},
	})

	bus.Publish(context.Background(), []Event{{Type: EventScoreChanged, ObjID: 1}})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("handlers fired out of registration order: %v", order)
	}
}

func TestPublishOnlyMatchingTypes(t *testing.T) {
	bus := New()
	calls := 0
	bus.Register(HandlerFunc{
		IDValue: "scores-only",
		Types:   []EventType{EventScoreChanged},
		Fn: func(ctx context.Context, e *Event) error {
			calls++
			return nil
		},
	})

	bus.Publish(context.Background(), []Event{{Type: EventHostAdded}})

	if calls != 0 {
		t.Fatalf("handler should not have been invoked for a non-matching event type, got %d calls", calls)
	}
}

func TestUnregisterRemovesHandler(t *testing.T) {
	bus := New()
	bus.Register(HandlerFunc{IDValue: "h1", Types: []EventType{EventScoreChanged}, Fn: func(context.Context, *Event) error { return nil }})
	if !bus.Unregister("h1") {
		t.Fatal("expected handler to be present")
	}
	if bus.Unregister("h1") {
		t.Fatal("expected second unregister to report absent")
	}
}

func TestHandlerErrorDoesNotPanicOrStopChain(t *testing.T) {
	bus := New()
	secondCalled := false
	bus.Register(HandlerFunc{
		IDValue: "failing",
		Types:   []EventType{EventScoreChanged},
		Fn: func(context.Context, *Event) error {
			return context.DeadlineExceeded
		},
	})
	bus.Register(HandlerFunc{
		IDValue: "ok",
		Types:   []EventType{EventScoreChanged},
		Fn: func(context.Context, *Event) error {
			secondCalled = true
			return nil
		},
	})

	bus.Publish(context.Background(), []Event{{Type: EventScoreChanged}})

	if !secondCalled {
		t.Fatal("a failing handler must not prevent subsequent handlers from running")
	}
}
