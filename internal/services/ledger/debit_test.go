package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestDebitDrainsSoonestExpiringFirst(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()

	later := testutil.SeedCard(t, f.db, "user-1", 10, testutil.ExpiringAt(now.Add(30*24*time.Hour)))
	sooner := testutil.SeedCard(t, f.db, "user-1", 10, testutil.ExpiringAt(now.Add(24*time.Hour)))

	res, err := f.ledger.Debit(context.Background(), "user-1", 15, "session-1")
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Equal(t, 15, res.Deducted)
	assert.Equal(t, 0, res.Shortfall())
	require.Len(t, res.Entries, 2)
	assert.Equal(t, sooner.ID, res.Entries[0].CardID)
	assert.Equal(t, 10, res.Entries[0].Minutes)
	assert.Equal(t, later.ID, res.Entries[1].CardID)
	assert.Equal(t, 5, res.Entries[1].Minutes)

	a := testutil.ReloadCard(t, f.db, sooner.ID)
	assert.Equal(t, 0, a.RemainingMinutes)
	assert.Equal(t, models.TimeCardUsed, a.Status)

	b := testutil.ReloadCard(t, f.db, later.ID)
	assert.Equal(t, 5, b.RemainingMinutes)
	assert.Equal(t, models.TimeCardActive, b.Status)
}

func TestDebitOrdersNeverExpiringLastThenByPurchase(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()

	forever := testutil.SeedCard(t, f.db, "user-1", 5, testutil.CreatedAt(now.Add(-48*time.Hour)))
	olderSameExpiry := testutil.SeedCard(t, f.db, "user-1", 5,
		testutil.ExpiringAt(now.Add(time.Hour)), testutil.CreatedAt(now.Add(-2*time.Hour)))
	newerSameExpiry := testutil.SeedCard(t, f.db, "user-1", 5,
		testutil.ExpiringAt(now.Add(time.Hour)), testutil.CreatedAt(now.Add(-time.Hour)))

	res, err := f.ledger.Debit(context.Background(), "user-1", 12, "session-1")
	require.NoError(t, err)
	require.Len(t, res.Entries, 3)
	assert.Equal(t, olderSameExpiry.ID, res.Entries[0].CardID)
	assert.Equal(t, newerSameExpiry.ID, res.Entries[1].CardID)
	assert.Equal(t, forever.ID, res.Entries[2].CardID)
	assert.Equal(t, 2, res.Entries[2].Minutes)
}

func TestDebitSkipsUnusableCards(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()

	expired := testutil.SeedCard(t, f.db, "user-1", 50, testutil.ExpiringAt(now.Add(-time.Minute)))
	refunded := testutil.SeedCard(t, f.db, "user-1", 50, testutil.WithStatus(models.TimeCardRefunded))
	pending := testutil.SeedCard(t, f.db, "user-1", 50, testutil.WithStatus(models.TimeCardPending))
	someoneElse := testutil.SeedCard(t, f.db, "user-2", 50)
	usable := testutil.SeedCard(t, f.db, "user-1", 3)

	res, err := f.ledger.Debit(context.Background(), "user-1", 5, "session-1")
	require.NoError(t, err)
	assert.False(t, res.Complete)
	assert.Equal(t, 3, res.Deducted)
	assert.Equal(t, 2, res.Shortfall())

	for _, c := range []models.TimeCard{expired, refunded, pending, someoneElse} {
		assert.Equal(t, 50, testutil.ReloadCard(t, f.db, c.ID).RemainingMinutes)
	}
	assert.Equal(t, 0, testutil.ReloadCard(t, f.db, usable.ID).RemainingMinutes)
}

func TestDebitWithNoCardsIsAShortfall(t *testing.T) {
	f := newFixture(t)

	res, err := f.ledger.Debit(context.Background(), "user-1", 5, "session-1")
	require.NoError(t, err)
	assert.False(t, res.Complete)
	assert.Equal(t, 0, res.Deducted)
	assert.Equal(t, 5, res.Shortfall())
	assert.Empty(t, res.Entries)
}

func TestDebitZeroAndNegative(t *testing.T) {
	f := newFixture(t)

	res, err := f.ledger.Debit(context.Background(), "user-1", 0, "session-1")
	require.NoError(t, err)
	assert.True(t, res.Complete)

	_, err = f.ledger.Debit(context.Background(), "user-1", -1, "session-1")
	require.Error(t, err)
}

func TestDebitWritesAuditRows(t *testing.T) {
	f := newFixture(t)
	testutil.SeedCard(t, f.db, "user-1", 4)
	testutil.SeedCard(t, f.db, "user-1", 4)

	_, err := f.ledger.Debit(context.Background(), "user-1", 6, "session-audit")
	require.NoError(t, err)

	var debits []models.CardDebit
	require.NoError(t, f.db.Where("session_id = ?", "session-audit").Find(&debits).Error)
	total := 0
	for _, d := range debits {
		total += d.Minutes
	}
	assert.Len(t, debits, 2)
	assert.Equal(t, 6, total)
}

func TestConcurrentDebitsNeverGoNegative(t *testing.T) {
	f := newFixture(t)
	card := testutil.SeedCard(t, f.db, "user-1", 20)

	const workers = 10
	deducted := make([]int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.ledger.Debit(context.Background(), "user-1", 3, "session-x")
			assert.NoError(t, err)
			deducted[i] = res.Deducted
		}(i)
	}
	wg.Wait()

	total := 0
	for _, d := range deducted {
		total += d
	}
	assert.Equal(t, 20, total)

	stored := testutil.ReloadCard(t, f.db, card.ID)
	assert.Equal(t, 0, stored.RemainingMinutes)
	assert.Equal(t, models.TimeCardUsed, stored.Status)
}

func TestDebitRollsBackWhenCardChangesAfterRead(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	ctx := context.Background()

	first := testutil.SeedCard(t, f.db, "user-1", 5, testutil.ExpiringAt(now.Add(24*time.Hour)))
	second := testutil.SeedCard(t, f.db, "user-1", 10, testutil.ExpiringAt(now.Add(48*time.Hour)))

	// A second writer spends from the later card between the locked read and
	// the ledger's own update of it.
	cardUpdates := 0
	callbacks := f.db.Callback().Update()
	require.NoError(t, callbacks.Before("gorm:update").Register("ledger_test:interleave", func(tx *gorm.DB) {
		if tx.Statement.Table != "time_cards" {
			return
		}
		cardUpdates++
		if cardUpdates != 2 {
			return
		}
		err := tx.Session(&gorm.Session{NewDB: true}).
			Exec("UPDATE time_cards SET remaining_minutes = ? WHERE id = ?", 1, second.ID).Error
		assert.NoError(t, err)
	}))
	t.Cleanup(func() { _ = callbacks.Remove("ledger_test:interleave") })

	_, err := f.ledger.Debit(ctx, "user-1", 8, "session-1")
	require.ErrorIs(t, err, ErrConcurrentDebit)
	assert.Equal(t, 2, cardUpdates)

	// Nothing from the failed debit survives, including the first card's update.
	a := testutil.ReloadCard(t, f.db, first.ID)
	assert.Equal(t, 5, a.RemainingMinutes)
	assert.Equal(t, models.TimeCardActive, a.Status)

	var debits int64
	require.NoError(t, f.db.Model(&models.CardDebit{}).Count(&debits).Error)
	assert.Zero(t, debits)
}
