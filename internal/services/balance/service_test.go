package balance

import (
	"context"
	"testing"
	"time"

	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBalance(t *testing.T) {
	db := testutil.NewDB(t).DB
	clock := testutil.NewClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	svc := NewService(db, clock.Now)
	now := clock.Now()

	soon := now.Add(48 * time.Hour)
	testutil.SeedCard(t, db, "user-1", 60)
	testutil.SeedCard(t, db, "user-1", 30, testutil.ExpiringAt(soon))
	testutil.SeedCard(t, db, "user-1", 15, testutil.ExpiringAt(now.Add(90*24*time.Hour)))
	testutil.SeedCard(t, db, "user-1", 100, testutil.WithStatus(models.TimeCardRefunded))
	testutil.SeedCard(t, db, "user-1", 100, testutil.WithStatus(models.TimeCardPending))
	testutil.SeedCard(t, db, "user-1", 0, testutil.WithStatus(models.TimeCardUsed))
	testutil.SeedCard(t, db, "user-2", 500)

	b, err := svc.GetBalance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", b.UserID)
	assert.Equal(t, 105, b.TotalMinutes)
	assert.Equal(t, 1.8, b.TotalHours)
	assert.Equal(t, 3, b.ActiveCards)
	require.NotNil(t, b.NextExpiration)
	assert.True(t, b.NextExpiration.Equal(soon))
}

func TestGetBalanceExcludesExpiredWithoutSweep(t *testing.T) {
	db := testutil.NewDB(t).DB
	clock := testutil.NewClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	svc := NewService(db, clock.Now)

	testutil.SeedCard(t, db, "user-1", 40, testutil.ExpiringAt(clock.Now().Add(time.Hour)))

	ok, err := svc.HasMinutes(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(2 * time.Hour)

	b, err := svc.GetBalance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, b.TotalMinutes)
	assert.Equal(t, 0, b.ActiveCards)
	assert.Nil(t, b.NextExpiration)

	ok, err = svc.HasMinutes(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetBalanceEmpty(t *testing.T) {
	svc := NewService(testutil.NewDB(t).DB, nil)

	b, err := svc.GetBalance(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, models.Balance{UserID: "nobody"}, b)
}

func TestCleanupExpired(t *testing.T) {
	db := testutil.NewDB(t).DB
	clock := testutil.NewClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	svc := NewService(db, clock.Now)
	now := clock.Now()

	past := testutil.SeedCard(t, db, "user-1", 40, testutil.ExpiringAt(now.Add(-time.Minute)))
	drained := testutil.SeedCard(t, db, "user-1", 0, testutil.ExpiringAt(now.Add(-time.Minute)))
	future := testutil.SeedCard(t, db, "user-1", 40, testutil.ExpiringAt(now.Add(time.Minute)))
	forever := testutil.SeedCard(t, db, "user-1", 40)
	refunded := testutil.SeedCard(t, db, "user-1", 40,
		testutil.ExpiringAt(now.Add(-time.Minute)), testutil.WithStatus(models.TimeCardRefunded))

	n, err := svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.Equal(t, models.TimeCardExpired, testutil.ReloadCard(t, db, past.ID).Status)
	assert.Equal(t, 40, testutil.ReloadCard(t, db, past.ID).RemainingMinutes)
	assert.Equal(t, models.TimeCardExpired, testutil.ReloadCard(t, db, drained.ID).Status)
	assert.Equal(t, models.TimeCardActive, testutil.ReloadCard(t, db, future.ID).Status)
	assert.Equal(t, models.TimeCardActive, testutil.ReloadCard(t, db, forever.ID).Status)
	assert.Equal(t, models.TimeCardRefunded, testutil.ReloadCard(t, db, refunded.ID).Status)

	n, err = svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
