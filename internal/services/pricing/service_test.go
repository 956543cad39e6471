package pricing

import (
	"context"
	"testing"

	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedDefaultsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := NewService(testutil.NewDB(t).DB)

	require.NoError(t, svc.SeedDefaults(ctx))
	require.NoError(t, svc.SeedDefaults(ctx))

	tiers := svc.ListActiveTiers(ctx)
	require.Len(t, tiers, len(DefaultTiers))
	assert.Equal(t, "starter_1h", tiers[0].ID)
	assert.Equal(t, "enterprise_50h", tiers[len(tiers)-1].ID)
}

func TestListActiveTiersOrdersByMinutesAndSkipsInactive(t *testing.T) {
	ctx := context.Background()
	svc := NewService(testutil.NewDB(t).DB)

	for _, tier := range []models.PricingTier{
		{ID: "big", Name: "Big", Minutes: 600, Price: 5000, Active: true},
		{ID: "small", Name: "Small", Minutes: 30, Price: 500, Active: true},
		{ID: "retired", Name: "Retired", Minutes: 60, Price: 900, Active: true},
	} {
		_, err := svc.Upsert(ctx, tier)
		require.NoError(t, err)
	}
	require.NoError(t, svc.Deactivate(ctx, "retired"))

	tiers := svc.ListActiveTiers(ctx)
	require.Len(t, tiers, 2)
	assert.Equal(t, "small", tiers[0].ID)
	assert.Equal(t, "big", tiers[1].ID)

	retired, err := svc.GetTier(ctx, "retired")
	require.NoError(t, err)
	assert.False(t, retired.Active)
}

func TestGetTier(t *testing.T) {
	ctx := context.Background()
	svc := NewService(testutil.NewDB(t).DB)
	require.NoError(t, svc.SeedDefaults(ctx))

	tier, err := svc.GetTier(ctx, "basic_5h")
	require.NoError(t, err)
	assert.Equal(t, 330, tier.TotalMinutes())
	assert.Equal(t, int64(4499), tier.Price)

	_, err = svc.GetTier(ctx, "nope")
	assert.ErrorIs(t, err, ErrTierNotFound)
	assert.ErrorIs(t, svc.Deactivate(ctx, "nope"), ErrTierNotFound)
}

func TestUpsertValidates(t *testing.T) {
	svc := NewService(testutil.NewDB(t).DB)

	_, err := svc.Upsert(context.Background(), models.PricingTier{ID: "free", Minutes: 10})
	require.Error(t, err)
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.ErrorTypeValidation, appErr.Type)
}

func TestUpsertFreezesTermsOfPurchasedTier(t *testing.T) {
	db := testutil.NewDB(t).DB
	svc := NewService(db)
	ctx := context.Background()
	require.NoError(t, svc.SeedDefaults(ctx))

	// Unreferenced tiers can still be repriced.
	repriced := DefaultTiers[1]
	repriced.Price = 3999
	_, err := svc.Upsert(ctx, repriced)
	require.NoError(t, err)

	testutil.SeedCard(t, db, "user-1", 60, testutil.FromTier("starter_1h"))

	changed := DefaultTiers[0]
	changed.Minutes = 5
	changed.Price = 99999
	_, err = svc.Upsert(ctx, changed)
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.ErrorTypeConflict, appErr.Type)

	tier, err := svc.GetTier(ctx, "starter_1h")
	require.NoError(t, err)
	assert.Equal(t, 60, tier.Minutes)
	assert.Equal(t, int64(999), tier.Price)

	renamed := DefaultTiers[0]
	renamed.Name = "Starter hour"
	renamed.Active = false
	_, err = svc.Upsert(ctx, renamed)
	require.NoError(t, err)

	tier, err = svc.GetTier(ctx, "starter_1h")
	require.NoError(t, err)
	assert.Equal(t, "Starter hour", tier.Name)
	assert.False(t, tier.Active)
}

func TestUpsertFreezesTermsOfPendingCheckout(t *testing.T) {
	db := testutil.NewDB(t).DB
	svc := NewService(db)
	ctx := context.Background()
	require.NoError(t, svc.SeedDefaults(ctx))

	require.NoError(t, db.Create(&models.Payment{
		ID:               "pay-1",
		UserID:           "user-1",
		TierID:           "pro_25h",
		PaymentReference: "pi_pending",
		Amount:           17999,
		Currency:         "usd",
		Status:           models.PaymentPending,
	}).Error)

	changed := DefaultTiers[3]
	changed.BonusMinutes = 900
	_, err := svc.Upsert(ctx, changed)
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.ErrorTypeConflict, appErr.Type)
}

func TestListActiveTiersReturnsEmptyOnStorageError(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db.DB)
	require.NoError(t, db.Close())

	tiers := svc.ListActiveTiers(context.Background())
	assert.NotNil(t, tiers)
	assert.Empty(t, tiers)
}
