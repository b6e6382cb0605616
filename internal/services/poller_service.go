package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// PollerService periodically pulls new sessions from the upstream source
// and feeds them to the lifecycle engine, oldest first. All ingestion goes
// through this one goroutine, which together with the engine's own lock
// gives the single-writer serialization the engine relies on.
type PollerService struct {
	scheduler gocron.Scheduler
	source    SessionSource
	engine    *RegressionService
	sessions  *SessionStore
	interval  time.Duration
}

// NewPollerService creates a poller over the given source
func NewPollerService(source SessionSource, engine *RegressionService, sessions *SessionStore, interval time.Duration) (*PollerService, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &PollerService{
		scheduler: scheduler,
		source:    source,
		engine:    engine,
		sessions:  sessions,
		interval:  interval,
	}, nil
}

// Start schedules the polling job and begins running it
func (p *PollerService) Start() error {
	_, err := p.scheduler.NewJob(
		gocron.DurationJob(p.interval),
		gocron.NewTask(func() {
			if err := p.Poll(context.Background()); err != nil {
				log.Printf("⚠️ [POLLER] Poll failed: %v", err)
			}
		}),
		gocron.WithName("session-poll"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule session poll: %w", err)
	}

	p.scheduler.Start()
	log.Printf("⏰ [POLLER] Polling session source every %s", p.interval)
	return nil
}

// Poll runs one pass: every upstream session not yet processed is
// ingested in chronological order, so build gaps are computed against a
// fully recorded history.
func (p *PollerService) Poll(ctx context.Context) error {
	upstream, err := p.source.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list upstream sessions: %w", err)
	}

	processed := 0
	for _, session := range OrderSessions(upstream) {
		done, err := p.sessions.IsProcessed(ctx, session.ID)
		if err != nil {
			return err
		}
		if done {
			continue
		}

		findings, err := p.source.GetFindings(ctx, session.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				log.Printf("⚠️ [POLLER] Session %s vanished upstream, skipping", session.ID)
				continue
			}
			return fmt.Errorf("failed to fetch findings for session %s: %w", session.ID, err)
		}

		if _, err := p.engine.ProcessSession(ctx, &session, findings); err != nil {
			return fmt.Errorf("failed to process session %s: %w", session.ID, err)
		}
		processed++
	}

	if processed > 0 {
		log.Printf("✅ [POLLER] Ingested %d new session(s)", processed)
	}
	return nil
}

// Stop shuts the scheduler down
func (p *PollerService) Stop() error {
	return p.scheduler.Shutdown()
}
