// Package notifications tells users their minute balance is running low.
package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// DefaultCooldown is how long a user is left alone after a warning.
const DefaultCooldown = 6 * time.Hour

type Notifier interface {
	NotifyLowBalance(ctx context.Context, balance models.Balance) error
}

// LogNotifier writes the warning to the service log. It is the delivery
// channel used until a push or email provider is wired in.
type LogNotifier struct{}

func (LogNotifier) NotifyLowBalance(_ context.Context, balance models.Balance) error {
	fiberlog.Warnf("user %s is low on minutes: %d left (%.1f h)", balance.UserID, balance.TotalMinutes, balance.TotalHours)
	return nil
}

// Throttle admits one event per key per window.
type Throttle interface {
	Allow(ctx context.Context, key string, window time.Duration) (bool, error)
}

// RedisThrottle uses SET NX with a TTL so every replica shares one window.
type RedisThrottle struct {
	client *redis.Client
	prefix string
}

func NewRedisThrottle(client *redis.Client, prefix string) *RedisThrottle {
	if prefix == "" {
		prefix = "timecards:low_balance:"
	}
	return &RedisThrottle{client: client, prefix: prefix}
}

func (t *RedisThrottle) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := t.client.SetNX(ctx, t.prefix+key, time.Now().UTC().Format(time.RFC3339), window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set throttle key: %w", err)
	}
	return ok, nil
}

// ThrottledNotifier forwards at most one warning per user per cooldown.
// Throttle failures fail open: a duplicate warning beats a missed one.
type ThrottledNotifier struct {
	next     Notifier
	throttle Throttle
	cooldown time.Duration
}

func NewThrottledNotifier(next Notifier, throttle Throttle, cooldown time.Duration) *ThrottledNotifier {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &ThrottledNotifier{next: next, throttle: throttle, cooldown: cooldown}
}

func (n *ThrottledNotifier) NotifyLowBalance(ctx context.Context, balance models.Balance) error {
	if n.throttle != nil {
		ok, err := n.throttle.Allow(ctx, balance.UserID, n.cooldown)
		if err != nil {
			fiberlog.Warnf("low balance throttle unavailable for user %s: %v", balance.UserID, err)
		} else if !ok {
			fiberlog.Debugf("low balance warning for user %s suppressed", balance.UserID)
			return nil
		}
	}
	return n.next.NotifyLowBalance(ctx, balance)
}
