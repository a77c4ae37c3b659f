// Package scheduler runs the server's periodic work and owns the shutdown
// sequence.
//
// Periodic jobs:
//   - snapshot coalescer: a 1 s ticker flushing every dirty event's
//     current_positions.json (bursts of packets collapse into at most one
//     write per second per event)
//   - auth-failure sweep: drops expired cool-down records every minute
//   - rotation sweep: log files rotate lazily when the first packet of a
//     new UTC date arrives; the cron entry at midnight UTC just logs the
//     day boundary and flushes buffered log lines into yesterday's files
//
// The cron jobs run on a shared robfig/cron instance with recovery
// wrapping so a panicking job cannot take down the scheduler.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/seatrack-dev/seatrack/internal/logger"
	"github.com/seatrack-dev/seatrack/internal/registry"
	"github.com/seatrack-dev/seatrack/internal/store"
)

// snapshotInterval is the coalescing window for snapshot writes.
const snapshotInterval = time.Second

// Scheduler drives the periodic jobs.
type Scheduler struct {
	store *store.Store
	reg   *registry.Registry
	cron  *cron.Cron
	log   zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler over the store and registry.
func New(st *store.Store, reg *registry.Registry) *Scheduler {
	return &Scheduler{
		store: st,
		reg:   reg,
		cron:  cron.New(cron.WithLocation(time.UTC)),
		log:   *logger.Scheduler(),
	}
}

// Start launches the snapshot ticker and the cron jobs.
func (s *Scheduler) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	if _, err := s.cron.AddFunc("@every 1m", s.recovered("failcache-sweep", func() {
		if removed := s.reg.Fails().Sweep(); removed > 0 {
			s.log.Debug().Int("removed", removed).Msg("swept auth-failure records")
		}
	})); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("0 0 * * *", s.recovered("day-rollover", func() {
		// Rotation itself happens lazily on the first packet of the new
		// UTC date; this closes out yesterday's buffers promptly.
		s.store.FlushSnapshots(false)
		s.log.Info().Msg("utc day rollover")
	})); err != nil {
		return err
	}
	s.cron.Start()

	go s.snapshotLoop(ctx)
	return nil
}

// snapshotLoop is the 1 Hz coalescer.
func (s *Scheduler) snapshotLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.store.FlushSnapshots(false)
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the periodic work and force-flushes every snapshot. Blocks
// until the coalescer goroutine exits.
func (s *Scheduler) Stop() {
	cronCtx := s.cron.Stop()
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	<-cronCtx.Done()
	s.store.FlushSnapshots(true)
}

// recovered wraps a job so a panic is logged instead of crashing the
// cron goroutine.
func (s *Scheduler) recovered(name string, fn func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Str("job", name).Interface("panic", r).Msg("scheduled job panicked")
			}
		}()
		fn()
	}
}
