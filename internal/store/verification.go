package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// VerificationRepository stores one-time activation codes. At most one live
// code exists per user; requesting a new one replaces the old.
type VerificationRepository struct {
	db *sql.DB
}

func NewVerificationRepository(db *sql.DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

// Replace discards any previous code for the user and stores a fresh one.
func (r *VerificationRepository) Replace(ctx context.Context, userID int, code string, expiresAt time.Time) error {
	const query = `
		INSERT INTO verification_codes (user_id, code, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET code = EXCLUDED.code,
			expires_at = EXCLUDED.expires_at,
			created_at = NOW()`
	_, err := r.db.ExecContext(ctx, query, userID, code, expiresAt)
	return err
}

// Get returns the expiry of the stored code for the user, or ErrNotFound when
// the code does not match.
func (r *VerificationRepository) Get(ctx context.Context, userID int, code string) (time.Time, error) {
	const query = `
		SELECT expires_at
		FROM verification_codes
		WHERE user_id = $1 AND code = $2`
	var expiresAt time.Time
	err := r.db.QueryRowContext(ctx, query, userID, code).Scan(&expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, err
	}
	return expiresAt, nil
}

// Delete removes the user's code after it has been used or rejected.
func (r *VerificationRepository) Delete(ctx context.Context, userID int) error {
	const query = `DELETE FROM verification_codes WHERE user_id = $1`
	_, err := r.db.ExecContext(ctx, query, userID)
	return err
}
