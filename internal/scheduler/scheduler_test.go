package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"poselink/internal/registry"
	"poselink/internal/session"
)

func TestSweepRemovesExpiredSessions(t *testing.T) {
	store := session.NewStore(20 * time.Millisecond)
	reg := registry.NewRegistry()
	store.Create("ipad-01", "token-a")
	store.Create("ipad-02", "token-b")

	s := NewScheduler(store, reg, 30*time.Millisecond, time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	assert.Eventually(t, func() bool {
		return store.ActiveCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := NewScheduler(session.NewStore(time.Hour), registry.NewRegistry(),
		10*time.Millisecond, 10*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on context cancellation")
	}
}

func TestLoopSurvivesPanickingIteration(t *testing.T) {
	s := NewScheduler(session.NewStore(time.Hour), registry.NewRegistry(),
		time.Hour, time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	done := make(chan struct{})
	go func() {
		s.loop(ctx, "panicky", 10*time.Millisecond, func() error {
			calls++
			if calls == 1 {
				panic("boom")
			}
			if calls >= 3 {
				cancel()
			}
			return nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop died instead of surviving the panic")
	}
	assert.GreaterOrEqual(t, calls, 3, "loop must keep ticking after a panic")
}
