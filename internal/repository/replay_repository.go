package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/star-wheel/internal/model"
)

// ReplayRepo persists accepted Telegram auth dates in 'telegram_timestamps'.
// The auth_date column is the primary key, so Record is the atomic
// "check unseen and remember" step: of two concurrent inserts with the same
// auth date exactly one succeeds.
type ReplayRepo struct{ DB *sql.DB }

func NewReplayRepo(db *sql.DB) *ReplayRepo { return &ReplayRepo{DB: db} }

// HasSeen reports whether authDate was already recorded.
func (r *ReplayRepo) HasSeen(ctx context.Context, authDate int64) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM telegram_timestamps WHERE auth_date=?", authDate).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

// Record stores rec, returning ErrDuplicate when its auth date is taken.
func (r *ReplayRepo) Record(ctx context.Context, rec model.ReplayRecord) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO telegram_timestamps (auth_date, telegram_id, seen_at) VALUES (?,?,?)",
		rec.AuthDate, rec.TelegramID, rec.SeenAt.UTC().Unix())
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
