// Package voice receives signed call lifecycle events from the voice
// platform and turns them into billing session calls.
package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/billing"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/metrics"
	fiberlog "github.com/gofiber/fiber/v2/log"
	svix "github.com/svix/svix-webhooks/go"
)

const (
	EventCallStarted = "call.started"
	EventCallEnded   = "call.ended"
)

var ErrInvalidSignature = errors.New("invalid voice event signature")

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type CallData struct {
	UserID         string     `json:"user_id"`
	RoomReference  string     `json:"room_reference"`
	ElapsedSeconds *int64     `json:"elapsed_seconds,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// Result is what the handler reports back to the platform.
type Result struct {
	Type    string                 `json:"type"`
	Outcome string                 `json:"outcome"`
	Session *models.BillingSession `json:"session,omitempty"`
}

type Service struct {
	wh      *svix.Webhook
	billing *billing.Service
	metrics *metrics.Billing
}

func NewService(secret string, billingSvc *billing.Service, m *metrics.Billing) (*Service, error) {
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize voice webhook verifier: %w", err)
	}
	return &Service{wh: wh, billing: billingSvc, metrics: m}, nil
}

// HandleEvent verifies and applies one call event. Events are delivered at
// least once; both call types are idempotent in the billing engine.
func (s *Service) HandleEvent(ctx context.Context, payload []byte, headers http.Header) (*Result, error) {
	if err := s.wh.Verify(payload, headers); err != nil {
		s.metrics.WebhookEvent("voice", "unknown", "rejected")
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, models.NewValidationError("invalid voice event payload", err)
	}

	var data CallData
	if event.Type == EventCallStarted || event.Type == EventCallEnded {
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return nil, models.NewValidationError("invalid call data", err)
		}
	}

	var (
		result *Result
		err    error
	)
	switch event.Type {
	case EventCallStarted:
		result, err = s.callStarted(ctx, data)
	case EventCallEnded:
		result, err = s.callEnded(ctx, data)
	default:
		fiberlog.Debugf("ignoring voice event %s", event.Type)
		s.metrics.WebhookEvent("voice", event.Type, "ignored")
		return &Result{Type: event.Type, Outcome: "ignored"}, nil
	}

	if err != nil {
		s.metrics.WebhookEvent("voice", event.Type, "error")
		return nil, err
	}
	s.metrics.WebhookEvent("voice", event.Type, "ok")
	result.Type = event.Type
	return result, nil
}

func (s *Service) callStarted(ctx context.Context, data CallData) (*Result, error) {
	res, err := s.billing.StartSession(ctx, data.UserID, data.RoomReference)
	if err != nil {
		return nil, err
	}
	return &Result{Outcome: string(res.Outcome), Session: res.Session}, nil
}

func (s *Service) callEnded(ctx context.Context, data CallData) (*Result, error) {
	if data.ElapsedSeconds == nil && data.EndedAt == nil {
		now := time.Now().UTC()
		data.EndedAt = &now
	}

	res, err := s.billing.EndSessionForRoom(ctx, data.UserID, data.RoomReference, data.ElapsedSeconds, data.EndedAt)
	if errors.Is(err, billing.ErrSessionNotFound) {
		// Nothing was ever opened for this room; redelivery cannot help.
		fiberlog.Warnf("call ended for user %s room %s without a billing session", data.UserID, data.RoomReference)
		return &Result{Outcome: "unknown_session"}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Result{Outcome: string(res.Outcome), Session: res.Session}, nil
}
