// Package cleanup runs the background maintenance loop: TTL expiry sweeps,
// stale-upload garbage collection, and emergency eviction when the byte
// budget runs hot.
package cleanup

import (
	"time"

	"go.uber.org/zap"

	"github.com/zulfikawr/beam/internal/clock"
	"github.com/zulfikawr/beam/internal/logging"
	"github.com/zulfikawr/beam/internal/metrics"
	"github.com/zulfikawr/beam/internal/protocol"
	"github.com/zulfikawr/beam/internal/store"
	"github.com/zulfikawr/beam/internal/upload"
)

// Notifier tells a session's members their room is going away before it is
// torn down. The realtime hub implements it; tests plug in a recorder.
type Notifier interface {
	NotifySessionExpired(sessionID, reason string)
}

// Scheduler drives the periodic sweep.
type Scheduler struct {
	clk       clock.Clock
	store     *store.Store
	assembler *upload.Assembler
	notifier  Notifier
	interval  time.Duration

	stop func()
}

// New builds a scheduler. interval <= 0 falls back to the default tick.
func New(clk clock.Clock, st *store.Store, asm *upload.Assembler, n Notifier, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = protocol.DefaultCleanupInterval
	}
	return &Scheduler{
		clk:       clk,
		store:     st,
		assembler: asm,
		notifier:  n,
		interval:  interval,
	}
}

// Start begins ticking. Each tick runs on the clock's goroutine; the work
// per session is independent so one slow eviction cannot wedge the rest.
func (s *Scheduler) Start() {
	s.stop = s.clk.Tick(s.interval, s.Sweep)
	logging.Info("cleanup scheduler started", zap.Duration("interval", s.interval))
}

// Stop halts the tick. Safe to call more than once.
func (s *Scheduler) Stop() {
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
}

// Sweep runs one full maintenance pass. Exported so tests and shutdown
// paths can force a tick.
func (s *Scheduler) Sweep(now time.Time) {
	started := s.clk.Now()

	// 1. TTL expiry. Notify members first so the event beats the teardown.
	for _, id := range s.store.ExpiredSessionIDs(now) {
		s.evict(id, protocol.ExpireReasonTTL)
	}

	// 2. Stale uploads.
	if n := s.assembler.SweepStale(now); n > 0 {
		logging.Info("stale uploads dropped", zap.Int("count", n))
	}

	// 3. Memory pressure.
	s.checkPressure()

	metrics.SweepDuration.Observe(s.clk.Now().Sub(started).Seconds())
}

func (s *Scheduler) evict(sessionID, reason string) {
	if s.notifier != nil {
		s.notifier.NotifySessionExpired(sessionID, reason)
	}
	s.assembler.CancelSession(sessionID)
	s.store.DeleteSession(sessionID, reason)
}

func (s *Scheduler) checkPressure() {
	total := s.store.TotalBytes()
	budget := s.store.MaxTotalBytes()
	usage := float64(total) / float64(budget)
	metrics.MemoryUsageRatio.Set(usage)

	switch {
	case usage >= protocol.CriticalThreshold:
		oldest := s.store.OldestSessions(protocol.EvictBatch)
		logging.Error("memory critical, evicting oldest sessions",
			zap.Float64("usage", usage),
			zap.Int("evicting", len(oldest)))
		for _, id := range oldest {
			metrics.PressureEvictions.Inc()
			s.evict(id, protocol.ExpireReasonPressure)
		}
	case usage >= protocol.WarningThreshold:
		logging.Warn("memory usage above warning threshold",
			zap.Float64("usage", usage),
			zap.Int64("total_bytes", total),
			zap.Int64("budget", budget))
	}
}
