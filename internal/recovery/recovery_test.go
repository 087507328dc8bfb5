package recovery

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRecoverAllRunsInOrder(t *testing.T) {
	var calls []string
	m := NewManager()
	for _, name := range []string{"jobs", "outbox"} {
		name := name
		m.Register(name, RecoverFunc(func(ctx context.Context) error {
			calls = append(calls, name)
			return nil
		}))
	}

	if err := m.RecoverAll(context.Background()); err != nil {
		t.Fatalf("RecoverAll: %v", err)
	}
	if strings.Join(calls, ",") != "jobs,outbox" {
		t.Errorf("unexpected call order %v", calls)
	}
}

func TestRecoverAllContinuesAfterFailure(t *testing.T) {
	boom := errors.New("boom")
	outboxCalled := false
	m := NewManager()
	m.Register("jobs", RecoverFunc(func(ctx context.Context) error { return boom }))
	m.Register("outbox", RecoverFunc(func(ctx context.Context) error {
		outboxCalled = true
		return nil
	}))

	err := m.RecoverAll(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error to wrap boom, got %v", err)
	}
	if !strings.Contains(err.Error(), "jobs: boom") {
		t.Errorf("error should name the component, got %q", err.Error())
	}
	if !outboxCalled {
		t.Error("outbox recovery should still run")
	}
}

func TestRecoverAllStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	m := NewManager()
	m.Register("jobs", RecoverFunc(func(ctx context.Context) error {
		called = true
		return nil
	}))

	if err := m.RecoverAll(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("no component should run after cancellation")
	}
}

func TestRecoverAllEmpty(t *testing.T) {
	if err := NewManager().RecoverAll(context.Background()); err != nil {
		t.Errorf("empty manager should succeed, got %v", err)
	}
}
