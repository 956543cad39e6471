// Package analytics mirrors closed billing sessions into ClickHouse for
// reporting. Nothing in the billing path reads from it.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"
	"gorm.io/gorm"
)

// Sink receives every session the billing engine closes.
type Sink interface {
	RecordSession(ctx context.Context, session models.BillingSession, debit *models.DebitResult) error
}

// NopSink is used when analytics is disabled.
type NopSink struct{}

func (NopSink) RecordSession(context.Context, models.BillingSession, *models.DebitResult) error {
	return nil
}

type SessionUsage struct {
	SessionID        string    `gorm:"column:session_id"`
	UserID           string    `gorm:"column:user_id"`
	RoomReference    string    `gorm:"column:room_reference"`
	Status           string    `gorm:"column:status"`
	StartTime        time.Time `gorm:"column:start_time"`
	EndTime          time.Time `gorm:"column:end_time"`
	ElapsedSeconds   int64     `gorm:"column:elapsed_seconds"`
	DebitedMinutes   int32     `gorm:"column:debited_minutes"`
	ChargedMinutes   int32     `gorm:"column:charged_minutes"`
	ShortfallMinutes int32     `gorm:"column:shortfall_minutes"`
	RecordedAt       time.Time `gorm:"column:recorded_at"`
}

func (SessionUsage) TableName() string { return "session_usage" }

type CardDebitUsage struct {
	DebitID   string    `gorm:"column:debit_id"`
	SessionID string    `gorm:"column:session_id"`
	UserID    string    `gorm:"column:user_id"`
	CardID    string    `gorm:"column:card_id"`
	Minutes   int32     `gorm:"column:minutes"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (CardDebitUsage) TableName() string { return "card_debit_usage" }

// ClickHouseSink appends rows; the ReplacingMergeTree tables collapse
// duplicates from retried writes.
type ClickHouseSink struct {
	db *gorm.DB
}

func NewClickHouseSink(db *gorm.DB) *ClickHouseSink {
	return &ClickHouseSink{db: db}
}

func (s *ClickHouseSink) RecordSession(ctx context.Context, session models.BillingSession, debit *models.DebitResult) error {
	row := sessionUsageFrom(session)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to record session %s: %w", session.ID, err)
	}

	if debit == nil || len(debit.Entries) == 0 {
		return nil
	}
	rows := make([]CardDebitUsage, 0, len(debit.Entries))
	for _, e := range debit.Entries {
		rows = append(rows, CardDebitUsage{
			DebitID:   e.ID,
			SessionID: e.SessionID,
			UserID:    e.UserID,
			CardID:    e.CardID,
			Minutes:   int32(e.Minutes),
			CreatedAt: e.CreatedAt,
		})
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to record card debits for session %s: %w", session.ID, err)
	}
	return nil
}

func sessionUsageFrom(s models.BillingSession) SessionUsage {
	row := SessionUsage{
		SessionID:     s.ID,
		UserID:        s.UserID,
		RoomReference: s.RoomReference,
		Status:        string(s.Status),
		StartTime:     s.StartTime,
		RecordedAt:    time.Now().UTC(),
	}
	if s.EndTime != nil {
		row.EndTime = *s.EndTime
	}
	if s.ElapsedSeconds != nil {
		row.ElapsedSeconds = *s.ElapsedSeconds
	}
	if s.DebitedMinutes != nil {
		row.DebitedMinutes = int32(*s.DebitedMinutes)
	}
	if s.ChargedMinutes != nil {
		row.ChargedMinutes = int32(*s.ChargedMinutes)
	}
	if s.ShortfallMinutes != nil {
		row.ShortfallMinutes = int32(*s.ShortfallMinutes)
	}
	return row
}
