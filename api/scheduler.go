/*
scheduler.go - Background jobs for the reward engine

PURPOSE:
  Runs the periodic work the request path never triggers on its own:
  crediting users who sit in voice, and pruning idle rate limiter entries.

JOBS:
  voice-tick   Engine.VoiceTick, one accrual attempt per voice session
  sweep        Engine.SweepLimiter, drops entries outside the hour bucket

DESIGN:
  - robfig/cron in UTC with SkipIfStillRunning, so a slow tick is never
    stacked behind itself
  - Each run logs a summary line; per-user failures are logged by the engine
  - Voice ticks never announce anything: unlocks are queued in the outbox
    and reach the user with their next chat message or command
  - RunVoiceTick and RunSweep are exported so tests and the CLI can trigger
    a run without waiting for the schedule

USAGE:
  scheduler, err := NewScheduler(eng, "@every 1m", "@every 10m")
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - engine/pipeline.go: VoiceTick, SweepLimiter
  - config/config.go: Schedule settings
*/
package api

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/warp/reward-engine/engine"
)

// Scheduler runs the engine's periodic jobs.
type Scheduler struct {
	Engine *engine.Engine

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// NewScheduler registers the voice tick and limiter sweep on their
// schedules. Schedules use the cron spec syntax, including "@every 1m".
func NewScheduler(eng *engine.Engine, voiceTickSpec, sweepSpec string) (*Scheduler, error) {
	s := &Scheduler{Engine: eng}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)

	if _, err := s.cron.AddFunc(voiceTickSpec, func() { s.RunVoiceTick(context.Background()) }); err != nil {
		return nil, fmt.Errorf("voice tick schedule %q: %w", voiceTickSpec, err)
	}
	if _, err := s.cron.AddFunc(sweepSpec, func() { s.RunSweep() }); err != nil {
		return nil, fmt.Errorf("sweep schedule %q: %w", sweepSpec, err)
	}
	return s, nil
}

// Start begins running jobs. Calling it twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	log.Printf("[Scheduler] Started with %d jobs", len(s.cron.Entries()))
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	log.Println("[Scheduler] Stopped")
}

// RunVoiceTick credits every eligible voice session once.
func (s *Scheduler) RunVoiceTick(ctx context.Context) engine.VoiceTickSummary {
	summary, err := s.Engine.VoiceTick(ctx)
	if err != nil {
		log.Printf("[Scheduler] Voice tick failed: %v", err)
		return summary
	}
	if summary.Sessions > 0 {
		log.Printf("[Scheduler] Voice tick: %d sessions, %d accrued, %d denied, %d failed",
			summary.Sessions, summary.Accrued, summary.Denied, summary.Failed)
	}
	return summary
}

// RunSweep prunes stale rate limiter entries.
func (s *Scheduler) RunSweep() int {
	n := s.Engine.SweepLimiter()
	if n > 0 {
		log.Printf("[Scheduler] Sweep removed %d limiter entries", n)
	}
	return n
}
