// Package scheduler runs the periodic housekeeping sweeps.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/metrics"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"
)

const (
	SweepExpiredCards = "expired_cards"
	SweepIdleSessions = "idle_sessions"
)

type ExpiredCardSweeper interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

type IdleSessionCloser interface {
	CloseIdleSessions(ctx context.Context) (int, error)
}

// SweepReport is what one pass of the sweeps did.
type SweepReport struct {
	ExpiredCards   int64 `json:"expired_cards"`
	ClosedSessions int   `json:"closed_sessions"`
}

type SweepScheduler struct {
	cron     *cron.Cron
	schedule string
	cards    ExpiredCardSweeper
	sessions IdleSessionCloser
	metrics  *metrics.Billing
}

func NewSweepScheduler(cards ExpiredCardSweeper, sessions IdleSessionCloser, schedule string, m *metrics.Billing) *SweepScheduler {
	logger := cronLogger{}
	return &SweepScheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		schedule: schedule,
		cards:    cards,
		sessions: sessions,
		metrics:  m,
	}
}

// Start registers the sweeps and starts the cron runner. The sweeps use ctx
// for their queries, so cancelling it aborts a pass in flight.
func (s *SweepScheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		report, err := s.RunOnce(ctx)
		if err != nil {
			fiberlog.Errorf("[CRON] sweep failed: %v", err)
			return
		}
		fiberlog.Debugf("[CRON] sweep done: %d cards expired, %d idle sessions closed", report.ExpiredCards, report.ClosedSessions)
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	fiberlog.Infof("Sweep scheduler started (%s)", s.schedule)
	return nil
}

// Stop waits for a running sweep to finish.
func (s *SweepScheduler) Stop() {
	<-s.cron.Stop().Done()
	fiberlog.Info("Sweep scheduler stopped")
}

// RunOnce runs both sweeps. A failing sweep does not skip the other one.
func (s *SweepScheduler) RunOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	var errs []error

	if s.cards != nil {
		started := time.Now()
		n, err := s.cards.CleanupExpired(ctx)
		s.metrics.ObserveSweep(SweepExpiredCards, time.Since(started))
		if err != nil {
			errs = append(errs, err)
		}
		report.ExpiredCards = n
		s.metrics.CardsExpired(n)
	}

	if s.sessions != nil {
		started := time.Now()
		n, err := s.sessions.CloseIdleSessions(ctx)
		s.metrics.ObserveSweep(SweepIdleSessions, time.Since(started))
		if err != nil {
			errs = append(errs, err)
		}
		report.ClosedSessions = n
	}

	return report, errors.Join(errs...)
}

// cronLogger routes cron's own messages to the service log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	fiberlog.Debugw("[CRON] "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	fiberlog.Errorw(fmt.Sprintf("[CRON] %s: %v", msg, err), keysAndValues...)
}
