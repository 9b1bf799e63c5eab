package scheduler

import (
	"context"
	"log"
	"time"

	"poselink/internal/metrics"
	"poselink/internal/registry"
	"poselink/internal/session"
)

// Scheduler runs the two background maintenance loops: the session
// expiry sweep and the unauthenticated-connection reaper. The reaper is
// a redundant safety net behind the per-connection handshake timers.
// Both loops are process singletons, started once and stopped only by
// context cancellation.
type Scheduler struct {
	sessions *session.Store
	registry *registry.Registry

	sweepInterval    time.Duration
	reaperInterval   time.Duration
	handshakeTimeout time.Duration
}

// NewScheduler wires a scheduler over the two stores.
func NewScheduler(sessions *session.Store, reg *registry.Registry, sweepInterval, reaperInterval, handshakeTimeout time.Duration) *Scheduler {
	return &Scheduler{
		sessions:         sessions,
		registry:         reg,
		sweepInterval:    sweepInterval,
		reaperInterval:   reaperInterval,
		handshakeTimeout: handshakeTimeout,
	}
}

// Run starts both loops and blocks until ctx is cancelled and both have
// exited.
func (s *Scheduler) Run(ctx context.Context) {
	done := make(chan struct{}, 2)

	go func() {
		s.loop(ctx, "expiry sweep", s.sweepInterval, s.sweepExpired)
		done <- struct{}{}
	}()
	go func() {
		s.loop(ctx, "unauthenticated reaper", s.reaperInterval, s.reapUnauthenticated)
		done <- struct{}{}
	}()

	<-done
	<-done
}

// loop ticks until cancellation. A single iteration's failure — error
// or panic — is logged and the loop continues on the next tick; it
// never terminates except on shutdown.
func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, tick func() error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("🛑 %s loop stopped", name)
			return
		case <-ticker.C:
			s.runTick(name, tick)
		}
	}
}

func (s *Scheduler) runTick(name string, tick func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("🔥 %s iteration panicked: %v", name, r)
		}
	}()
	if err := tick(); err != nil {
		log.Printf("⚠️  %s iteration failed: %v", name, err)
	}
}

func (s *Scheduler) sweepExpired() error {
	if removed := s.sessions.SweepExpired(); removed > 0 {
		metrics.SessionsExpired.Add(float64(removed))
		log.Printf("🗑  Expiry sweep removed %d session(s)", removed)
	}
	return nil
}

func (s *Scheduler) reapUnauthenticated() error {
	if closed := s.registry.CloseUnauthenticated(s.handshakeTimeout); closed > 0 {
		log.Printf("🗑  Reaper closed %d unauthenticated connection(s)", closed)
	}
	return nil
}
