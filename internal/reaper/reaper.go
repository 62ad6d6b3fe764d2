// Package reaper closes execution sessions that have been idle longer
// than the configured TTL, reclaiming workspace directories on the host.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaninda/sanduku/internal/config"
	"github.com/jkaninda/sanduku/internal/session"
)

// Reaper periodically sweeps the session manager for idle sessions.
type Reaper struct {
	sessions *session.Manager
	logger   *slog.Logger
	schedule cron.Schedule
	idleTTL  time.Duration
}

// New creates a Reaper from the reaper configuration.
// Returns an error if the cron schedule does not parse.
func New(sessions *session.Manager, cfg *config.ReaperConfig, logger *slog.Logger) (*Reaper, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(cfg.CronSchedule())
	if err != nil {
		return nil, fmt.Errorf("invalid reaper schedule %q: %w", cfg.CronSchedule(), err)
	}
	return &Reaper{
		sessions: sessions,
		logger:   logger.With(slog.String("component", "reaper")),
		schedule: sched,
		idleTTL:  cfg.IdleTTL(),
	}, nil
}

// Start begins the sweep loop. Returns a cancel function.
func (r *Reaper) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		r.logger.InfoContext(ctx, "session reaper started",
			slog.String("idle_ttl", r.idleTTL.String()),
		)

		for {
			next := r.schedule.Next(time.Now())
			timer := time.NewTimer(time.Until(next))

			select {
			case <-ctx.Done():
				timer.Stop()
				r.logger.Info("session reaper stopped")
				return
			case <-timer.C:
				r.sweep(ctx)
			}
		}
	}()

	return cancel
}

// sweep closes every session idle for longer than the TTL.
func (r *Reaper) sweep(ctx context.Context) {
	closed := r.sessions.CloseIdle(ctx, r.idleTTL)
	if len(closed) == 0 {
		return
	}
	r.logger.InfoContext(ctx, "closed idle sessions",
		slog.Int("count", len(closed)),
		slog.Any("sessions", closed),
	)
}
