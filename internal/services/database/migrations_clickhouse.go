package database

import (
	"fmt"

	"gorm.io/gorm"
)

// RunClickHouseMigrations creates the append-only analytics tables that
// mirror closed sessions and their card debits.
func RunClickHouseMigrations(db *gorm.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS session_usage (
			session_id String,
			user_id String,
			room_reference String,
			status LowCardinality(String),
			start_time DateTime64(3, 'UTC'),
			end_time DateTime64(3, 'UTC'),
			elapsed_seconds Int64,
			debited_minutes Int32,
			charged_minutes Int32,
			shortfall_minutes Int32,
			recorded_at DateTime64(3, 'UTC') DEFAULT now64(3)
		) ENGINE = ReplacingMergeTree(recorded_at)
		ORDER BY (user_id, session_id)`,

		`CREATE TABLE IF NOT EXISTS card_debit_usage (
			debit_id String,
			session_id String,
			user_id String,
			card_id String,
			minutes Int32,
			created_at DateTime64(3, 'UTC')
		) ENGINE = ReplacingMergeTree(created_at)
		ORDER BY (user_id, card_id, debit_id)`,
	}

	for _, query := range queries {
		if err := db.Exec(query).Error; err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}
