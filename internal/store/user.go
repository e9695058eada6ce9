package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/creditdesk/apiserver/types"
)

// UserRepository handles persistence for users. Balance and role columns are
// read here but only ever written through the Ledger.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `
	id, username, display_name, role, credits, days_remaining, is_active,
	COALESCE(telegram_username, ''), telegram_chat_id, telegram_verified, verified_at,
	created_by, password_hash, last_login,
	total_credited_users, total_credits_given, total_days_given, seller_since,
	created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.DisplayName,
		&user.Role,
		&user.Credits,
		&user.DaysRemaining,
		&user.IsActive,
		&user.TelegramUsername,
		&user.TelegramChatID,
		&user.TelegramVerified,
		&user.VerifiedAt,
		&user.CreatedBy,
		&user.PasswordHash,
		&user.LastLogin,
		&user.TotalCreditedUsers,
		&user.TotalCreditsGiven,
		&user.TotalDaysGiven,
		&user.SellerSince,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByHandle matches either the login username or the linked Telegram handle.
func (r *UserRepository) GetByHandle(ctx context.Context, handle string) (types.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE username = $1 OR telegram_username = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, handle))
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE username = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, username))
}

// Create inserts a new account. Default balances (20 credits, 7 days), the
// "user" role, and the inactive flag come from the table defaults.
func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	const query = `
		INSERT INTO users (username, display_name, password_hash, telegram_username, created_by)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		RETURNING id, role, credits, days_remaining, is_active, created_at, updated_at`
	err := r.db.QueryRowContext(
		ctx,
		query,
		user.Username,
		user.DisplayName,
		user.PasswordHash,
		user.TelegramUsername,
		user.CreatedBy,
	).Scan(
		&user.ID,
		&user.Role,
		&user.Credits,
		&user.DaysRemaining,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, id int) error {
	const query = `UPDATE users SET last_login = NOW() WHERE id = $1`
	return r.exec(ctx, query, id)
}

// SetActive flips the activation flag. Deactivation is a flag, not removal.
func (r *UserRepository) SetActive(ctx context.Context, id int, active bool) error {
	const query = `UPDATE users SET is_active = $1, updated_at = NOW() WHERE id = $2`
	return r.exec(ctx, query, active, id)
}

// MarkVerified activates the account after a successful verification code.
func (r *UserRepository) MarkVerified(ctx context.Context, id int) error {
	const query = `
		UPDATE users
		SET is_active = TRUE,
			telegram_verified = TRUE,
			verified_at = NOW(),
			updated_at = NOW()
		WHERE id = $1`
	return r.exec(ctx, query, id)
}

// LinkTelegramChat records the chat id the bot should deliver codes to,
// keyed by the Telegram handle the user registered with.
func (r *UserRepository) LinkTelegramChat(ctx context.Context, telegramUsername string, chatID int64) error {
	const query = `
		UPDATE users
		SET telegram_chat_id = $1, updated_at = NOW()
		WHERE telegram_username = $2`
	return r.exec(ctx, query, chatID, telegramUsername)
}

func (r *UserRepository) exec(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns users newest first, optionally filtered by role.
func (r *UserRepository) List(ctx context.Context, role types.Role, offset, limit int) ([]types.User, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE ($1 = '' OR role = $1)`, string(role),
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE ($1 = '' OR role = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, string(role), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := make([]types.User, 0, limit)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	return users, total, rows.Err()
}

// Search finds plain users whose username starts with the given prefix.
// Only grant-eligible accounts are surfaced to sellers.
func (r *UserRepository) Search(ctx context.Context, prefix string, limit int) ([]types.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE role = 'user' AND username ILIKE $1 || '%'
		ORDER BY username
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, prefix, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]types.User, 0, limit)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}
