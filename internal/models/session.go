package models

import (
	"math"
	"time"
)

type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
	SessionError  SessionStatus = "error"
)

// BillingSession is the billing window of one voice call.
//
// OpenKey is "<user_id>/<room_reference>" while the session is open and NULL
// afterwards; its unique index is what keeps a single open session per pair.
type BillingSession struct {
	ID               string        `gorm:"primaryKey;size:36" json:"id"`
	UserID           string        `gorm:"not null;size:255;index:idx_billing_sessions_user_room" json:"user_id"`
	RoomReference    string        `gorm:"not null;size:255;index:idx_billing_sessions_user_room" json:"room_reference"`
	OpenKey          *string       `gorm:"size:512;uniqueIndex" json:"-"`
	Status           SessionStatus `gorm:"not null;size:16;index;default:'open'" json:"status"`
	StartTime        time.Time     `gorm:"not null;index" json:"start_time"`
	EndTime          *time.Time    `json:"end_time"`
	ElapsedSeconds   *int64        `json:"elapsed_seconds"`
	DebitedMinutes   *int          `json:"debited_minutes"`
	ChargedMinutes   *int          `json:"charged_minutes"`
	ShortfallMinutes *int          `json:"shortfall_minutes"`
	CreatedAt        time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"not null" json:"updated_at"`
}

func (s *BillingSession) IsOpen() bool {
	return s.Status == SessionOpen
}

// SessionOpenKey builds the value stored in BillingSession.OpenKey.
func SessionOpenKey(userID, roomReference string) string {
	return userID + "/" + roomReference
}

// MaxElapsedSeconds bounds the call length accepted when closing a session.
// Anything longer is a malformed event, not a call.
const MaxElapsedSeconds int64 = 31 * 24 * 60 * 60

// BillableMinutes rounds elapsed time up to whole minutes and applies the
// per-session floor.
func BillableMinutes(elapsedSeconds int64, minimum int) int {
	minutes := int((elapsedSeconds + 59) / 60)
	if minutes < minimum {
		return minimum
	}
	return minutes
}

type EndSessionParams struct {
	SessionID      string
	ElapsedSeconds *int64
	EndTime        *time.Time
}

// Balance is derived from the ledger at read time, never stored.
type Balance struct {
	UserID         string     `json:"user_id"`
	TotalMinutes   int        `json:"total_minutes"`
	TotalHours     float64    `json:"total_hours"`
	ActiveCards    int        `json:"active_cards"`
	NextExpiration *time.Time `json:"next_expiration"`
}

func NewBalance(userID string, totalMinutes, activeCards int, nextExpiration *time.Time) Balance {
	return Balance{
		UserID:         userID,
		TotalMinutes:   totalMinutes,
		TotalHours:     math.Round(float64(totalMinutes)/60*10) / 10,
		ActiveCards:    activeCards,
		NextExpiration: nextExpiration,
	}
}
