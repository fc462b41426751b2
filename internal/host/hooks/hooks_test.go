package hooks

import (
	"context"
	"testing"
)

func TestFireInvokesRegisteredHooks(t *testing.T) {
	m := NewManager(nil)
	var fired []EventType
	m.Register(EventServiceHosted, FuncHook{IDValue: "a", Fn: func(ctx context.Context, e Event) error {
		fired = append(fired, e.Type)
		return nil
	}})
	m.Fire(context.Background(), Event{Type: EventServiceHosted, ServiceName: "Echo"})
	if len(fired) != 1 || fired[0] != EventServiceHosted {
		t.Fatalf("expected one fired hook, got %v", fired)
	}
}

func TestUnregisterRemovesHook(t *testing.T) {
	m := NewManager(nil)
	called := false
	m.Register(EventConnectAccepted, FuncHook{IDValue: "x", Fn: func(ctx context.Context, e Event) error {
		called = true
		return nil
	}})
	if !m.Unregister(EventConnectAccepted, "x") {
		t.Fatalf("expected unregister to report success")
	}
	m.Fire(context.Background(), Event{Type: EventConnectAccepted})
	if called {
		t.Fatalf("expected unregistered hook not to fire")
	}
}

func TestFireIsolatesHookErrors(t *testing.T) {
	m := NewManager(nil)
	secondCalled := false
	m.Register(EventOperationFailed, FuncHook{IDValue: "broken", Fn: func(ctx context.Context, e Event) error {
		return context.Canceled
	}})
	m.Register(EventOperationFailed, FuncHook{IDValue: "ok", Fn: func(ctx context.Context, e Event) error {
		secondCalled = true
		return nil
	}})
	m.Fire(context.Background(), Event{Type: EventOperationFailed})
	if !secondCalled {
		t.Fatalf("expected second hook to run despite first hook's error")
	}
}
