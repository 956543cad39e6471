// Package billing tracks the billing window of each voice call and charges
// the ledger when the call ends.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/analytics"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/balance"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/ledger"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/metrics"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/notifications"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("billing session not found")

const (
	defaultListLimit = 50
	maxListLimit     = 200
	startAttempts    = 3
)

type Service struct {
	db       *gorm.DB
	ledger   *ledger.Service
	balance  *balance.Service
	cfg      models.BillingConfig
	now      func() time.Time
	notifier notifications.Notifier
	sink     analytics.Sink
	metrics  *metrics.Billing
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithNotifier(n notifications.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithSink(sink analytics.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

func WithMetrics(m *metrics.Billing) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(db *gorm.DB, ledgerSvc *ledger.Service, balanceSvc *balance.Service, cfg models.BillingConfig, opts ...Option) *Service {
	s := &Service{
		db:      db,
		ledger:  ledgerSvc,
		balance: balanceSvc,
		cfg:     cfg,
		now:     time.Now,
		sink:    analytics.NopSink{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// StartSession opens the billing window for a call. If the (user, room) pair
// already has an open session that session is returned unchanged. No balance
// check happens here; pre-flight is the caller's decision.
func (s *Service) StartSession(ctx context.Context, userID, roomReference string) (models.StartResult, error) {
	if userID == "" || roomReference == "" {
		return models.StartResult{}, models.NewValidationError("user_id and room_reference are required", nil)
	}
	key := models.SessionOpenKey(userID, roomReference)

	for attempt := 0; attempt < startAttempts; attempt++ {
		now := s.clock()
		session := models.BillingSession{
			ID:            uuid.New().String(),
			UserID:        userID,
			RoomReference: roomReference,
			OpenKey:       &key,
			Status:        models.SessionOpen,
			StartTime:     now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		result := s.db.WithContext(ctx).
			Clauses(onOpenKeyConflict).
			Create(&session)
		if result.Error != nil {
			return models.StartResult{}, fmt.Errorf("failed to start billing session: %w", result.Error)
		}
		if result.RowsAffected == 1 {
			s.metrics.SessionStarted()
			fiberlog.Infof("started billing session %s for user %s in room %s", session.ID, userID, roomReference)
			return models.StartResult{Session: &session, Outcome: models.SessionStarted}, nil
		}

		existing, err := s.openSession(ctx, s.db, key)
		if err == nil {
			return models.StartResult{Session: existing, Outcome: models.SessionExisting}, nil
		}
		if !errors.Is(err, ErrSessionNotFound) {
			return models.StartResult{}, err
		}
		// The conflicting session closed between insert and lookup; try again.
	}
	return models.StartResult{}, models.NewInternalError("could not open billing session after concurrent closes", nil)
}

// EndSession closes an open session, converts elapsed time to billable
// minutes and debits them in the same transaction. Ending a closed session
// returns it with AlreadyClosed and debits nothing.
//
// When cards cannot cover the minutes the session still closes: what was
// available is charged, status becomes error and the shortfall is recorded.
func (s *Service) EndSession(ctx context.Context, params models.EndSessionParams) (models.EndResult, error) {
	if params.SessionID == "" {
		return models.EndResult{}, models.NewValidationError("session_id is required", nil)
	}
	if params.ElapsedSeconds == nil && params.EndTime == nil {
		return models.EndResult{}, models.NewValidationError("elapsed_seconds or end_time is required", nil)
	}
	if params.ElapsedSeconds != nil && *params.ElapsedSeconds < 0 {
		return models.EndResult{}, models.NewValidationError("elapsed_seconds must not be negative", nil)
	}
	if params.ElapsedSeconds != nil && *params.ElapsedSeconds > models.MaxElapsedSeconds {
		return models.EndResult{}, errElapsedTooLong
	}

	var result models.EndResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.endSessionTx(tx, params)
		return err
	})
	if err != nil {
		return models.EndResult{}, err
	}

	if result.Outcome != models.SessionAlreadyClosed {
		s.afterClose(ctx, result)
	}
	return result, nil
}

func (s *Service) endSessionTx(tx *gorm.DB, params models.EndSessionParams) (models.EndResult, error) {
	session, err := lockSession(tx, params.SessionID)
	if err != nil {
		return models.EndResult{}, err
	}
	if !session.IsOpen() {
		return models.EndResult{Session: session, Outcome: models.SessionAlreadyClosed}, nil
	}

	now := s.clock()
	elapsed, endTime := closeWindow(session.StartTime, params)
	if elapsed > models.MaxElapsedSeconds {
		return models.EndResult{}, errElapsedTooLong
	}
	billable := models.BillableMinutes(elapsed, s.cfg.MinimumBilledMinutes)

	// Guarded on status so a second closer that slipped past the lock (stores
	// without row locks) changes nothing and debits nothing.
	closed := tx.Model(&models.BillingSession{}).
		Where("id = ? AND status = ?", session.ID, models.SessionOpen).
		Updates(map[string]any{
			"status":          models.SessionClosed,
			"open_key":        nil,
			"end_time":        endTime,
			"elapsed_seconds": elapsed,
			"debited_minutes": billable,
			"updated_at":      now,
		})
	if closed.Error != nil {
		return models.EndResult{}, fmt.Errorf("failed to close billing session %s: %w", session.ID, closed.Error)
	}
	if closed.RowsAffected == 0 {
		current, err := findSession(tx, session.ID)
		if err != nil {
			return models.EndResult{}, err
		}
		return models.EndResult{Session: current, Outcome: models.SessionAlreadyClosed}, nil
	}

	debit, err := s.ledger.DebitTx(tx, session.UserID, billable, session.ID, now)
	if err != nil {
		return models.EndResult{}, fmt.Errorf("failed to debit session %s: %w", session.ID, err)
	}

	status := models.SessionClosed
	outcome := models.SessionEnded
	if !debit.Complete {
		status = models.SessionError
		outcome = models.SessionShortfall
	}
	charged, shortfall := debit.Deducted, debit.Shortfall()
	if err := tx.Model(&models.BillingSession{}).
		Where("id = ?", session.ID).
		Updates(map[string]any{
			"status":            status,
			"charged_minutes":   charged,
			"shortfall_minutes": shortfall,
		}).Error; err != nil {
		return models.EndResult{}, fmt.Errorf("failed to record charge for session %s: %w", session.ID, err)
	}

	session.Status = status
	session.OpenKey = nil
	session.EndTime = &endTime
	session.ElapsedSeconds = &elapsed
	session.DebitedMinutes = &billable
	session.ChargedMinutes = &charged
	session.ShortfallMinutes = &shortfall
	session.UpdatedAt = now

	return models.EndResult{Session: session, Outcome: outcome, Debit: &debit}, nil
}

var errElapsedTooLong = models.NewValidationError(
	fmt.Sprintf("elapsed_seconds must not exceed %d", models.MaxElapsedSeconds), nil)

// closeWindow resolves the elapsed seconds and end time from whichever the
// caller supplied. Elapsed time wins when both are given.
func closeWindow(start time.Time, params models.EndSessionParams) (int64, time.Time) {
	if params.ElapsedSeconds != nil {
		elapsed := *params.ElapsedSeconds
		return elapsed, start.Add(time.Duration(elapsed) * time.Second)
	}
	end := params.EndTime.UTC()
	elapsed := int64(end.Sub(start) / time.Second)
	if elapsed < 0 {
		return 0, start
	}
	return elapsed, end
}

func (s *Service) afterClose(ctx context.Context, result models.EndResult) {
	session := result.Session
	debit := result.Debit

	s.metrics.SessionClosed(string(result.Outcome), *session.ChargedMinutes, *session.ShortfallMinutes)
	if result.Outcome == models.SessionShortfall {
		fiberlog.Warnf("session %s for user %s billed %d min but only %d were available; shortfall %d min",
			session.ID, session.UserID, *session.DebitedMinutes, *session.ChargedMinutes, *session.ShortfallMinutes)
	} else {
		fiberlog.Infof("closed session %s for user %s: %ds elapsed, %d min charged",
			session.ID, session.UserID, *session.ElapsedSeconds, *session.ChargedMinutes)
	}

	if err := s.sink.RecordSession(ctx, *session, debit); err != nil {
		fiberlog.Errorf("failed to export session %s to analytics: %v", session.ID, err)
	}

	s.checkLowBalance(ctx, session.UserID)
}

func (s *Service) checkLowBalance(ctx context.Context, userID string) {
	if s.notifier == nil || s.balance == nil || s.cfg.LowBalanceThresholdMinutes <= 0 {
		return
	}
	b, err := s.balance.GetBalance(ctx, userID)
	if err != nil {
		fiberlog.Errorf("failed to read balance for low balance check of user %s: %v", userID, err)
		return
	}
	if b.TotalMinutes <= 0 || b.TotalMinutes > s.cfg.LowBalanceThresholdMinutes {
		return
	}
	if err := s.notifier.NotifyLowBalance(ctx, b); err != nil {
		fiberlog.Errorf("failed to send low balance notice to user %s: %v", userID, err)
	}
}

// EndSessionForRoom is the voice platform's view of end_session: it only
// knows the user and the room. A retry after the session closed gets the
// most recent closed session for the pair back.
func (s *Service) EndSessionForRoom(ctx context.Context, userID, roomReference string, elapsedSeconds *int64, endTime *time.Time) (models.EndResult, error) {
	if userID == "" || roomReference == "" {
		return models.EndResult{}, models.NewValidationError("user_id and room_reference are required", nil)
	}

	open, err := s.openSession(ctx, s.db, models.SessionOpenKey(userID, roomReference))
	if err == nil {
		return s.EndSession(ctx, models.EndSessionParams{SessionID: open.ID, ElapsedSeconds: elapsedSeconds, EndTime: endTime})
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return models.EndResult{}, err
	}

	var last models.BillingSession
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND room_reference = ? AND status <> ?", userID, roomReference, models.SessionOpen).
		Order("start_time DESC").
		First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.EndResult{}, ErrSessionNotFound
	}
	if err != nil {
		return models.EndResult{}, fmt.Errorf("failed to find last session: %w", err)
	}
	return models.EndResult{Session: &last, Outcome: models.SessionAlreadyClosed}, nil
}

// CloseIdleSessions closes sessions left open longer than the configured
// maximum, as when the call-ended event never arrived. They are billed for
// the maximum session length.
func (s *Service) CloseIdleSessions(ctx context.Context) (int, error) {
	maxAge := s.cfg.MaxSessionDuration()
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := s.clock().Add(-maxAge)

	var stale []models.BillingSession
	if err := s.db.WithContext(ctx).
		Where("status = ? AND start_time < ?", models.SessionOpen, cutoff).
		Order("start_time ASC").
		Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("failed to find idle sessions: %w", err)
	}

	elapsed := int64(maxAge / time.Second)
	closed := 0
	var errs []error
	for _, session := range stale {
		res, err := s.EndSession(ctx, models.EndSessionParams{SessionID: session.ID, ElapsedSeconds: &elapsed})
		if err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", session.ID, err))
			continue
		}
		if res.Outcome != models.SessionAlreadyClosed {
			closed++
			fiberlog.Warnf("closed idle session %s for user %s after %s", session.ID, session.UserID, maxAge)
		}
	}
	return closed, errors.Join(errs...)
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (*models.BillingSession, error) {
	return findSession(s.db.WithContext(ctx), sessionID)
}

// ListSessions returns the user's sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, userID string, limit int) ([]models.BillingSession, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var sessions []models.BillingSession
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("start_time DESC").
		Order("id DESC").
		Limit(limit).
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (s *Service) openSession(ctx context.Context, db *gorm.DB, key string) (*models.BillingSession, error) {
	var session models.BillingSession
	err := db.WithContext(ctx).Where("open_key = ?", key).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open session: %w", err)
	}
	return &session, nil
}
