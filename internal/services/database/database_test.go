package database

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(models.DatabaseConfig{Type: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}

func TestNewSQLiteRequiresFilePath(t *testing.T) {
	_, err := New(models.DatabaseConfig{Type: models.SQLite})
	require.Error(t, err)
}

func TestMigrateCreatesLedgerTables(t *testing.T) {
	db, err := New(models.DatabaseConfig{
		Type:     models.SQLite,
		FilePath: filepath.Join(t.TempDir(), "ledger.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	assert.Equal(t, "sqlite3", db.DriverName())
	require.NoError(t, db.Ping())
	require.NoError(t, Migrate(db))

	for _, table := range []any{
		&models.PricingTier{},
		&models.TimeCard{},
		&models.CardDebit{},
		&models.BillingSession{},
		&models.Payment{},
	} {
		assert.True(t, db.Migrator().HasTable(table))
	}

	// Migrating twice is harmless.
	require.NoError(t, Migrate(db))
}

func TestGormLoggerSkipsRecordNotFound(t *testing.T) {
	var buf bytes.Buffer
	logger := newGormLogger(&buf)
	query := func() (string, int64) { return "SELECT * FROM time_cards WHERE id = 'x'", 0 }

	logger.Trace(context.Background(), time.Now(), query, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String())

	logger.Trace(context.Background(), time.Now(), query, errors.New("database is locked"))
	assert.Contains(t, buf.String(), "database is locked")
}
