package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCards struct {
	calls atomic.Int32
	n     int64
	err   error
}

func (f *fakeCards) CleanupExpired(context.Context) (int64, error) {
	f.calls.Add(1)
	return f.n, f.err
}

type fakeSessions struct {
	calls atomic.Int32
	n     int
}

func (f *fakeSessions) CloseIdleSessions(context.Context) (int, error) {
	f.calls.Add(1)
	return f.n, nil
}

func TestRunOnce(t *testing.T) {
	cards := &fakeCards{n: 3}
	sessions := &fakeSessions{n: 2}
	s := NewSweepScheduler(cards, sessions, "@every 1h", nil)

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepReport{ExpiredCards: 3, ClosedSessions: 2}, report)
}

func TestRunOnceContinuesAfterFailure(t *testing.T) {
	cards := &fakeCards{err: errors.New("db down")}
	sessions := &fakeSessions{n: 1}
	s := NewSweepScheduler(cards, sessions, "@every 1h", nil)

	report, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, report.ClosedSessions)
	assert.Equal(t, int32(1), sessions.calls.Load())
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := NewSweepScheduler(&fakeCards{}, &fakeSessions{}, "every tuesday", nil)
	assert.Error(t, s.Start(context.Background()))
}

func TestStartRunsOnSchedule(t *testing.T) {
	cards := &fakeCards{}
	sessions := &fakeSessions{}
	s := NewSweepScheduler(cards, sessions, "@every 1s", nil)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return cards.calls.Load() > 0 && sessions.calls.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)
	s.Stop()
}
