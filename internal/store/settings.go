package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"basegraph.app/chorus/core/db"
	"basegraph.app/chorus/internal/model"
	"github.com/jackc/pgx/v5"
)

const quietHoursKey = "quiet_hours"

type settingsStore struct {
	db db.DBTX
}

func newSettingsStore(q db.DBTX) SettingsStore {
	return &settingsStore{db: q}
}

func (s *settingsStore) QuietHours(ctx context.Context) (*model.QuietHours, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, quietHoursKey).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var q model.QuietHours
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, fmt.Errorf("decode quiet hours: %w", err)
	}
	return &q, nil
}

func (s *settingsStore) SetQuietHours(ctx context.Context, q model.QuietHours) error {
	raw, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("encode quiet hours: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		quietHoursKey, raw)
	return err
}
