package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/creditdesk/apiserver/types"
)

// Ledger coordinates balance and role mutations. Every mutation runs inside
// one transaction with the target row locked, and appends exactly one
// credit_transactions row before committing. No other code path writes to
// the balance columns.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// GrantParams identifies one balance transfer.
type GrantParams struct {
	CallerID int
	TargetID int
	Kind     types.Kind
	Amount   int
	Reason   string
}

// Grant moves Amount credits or days from the caller's authority to the
// target account. The target row stays locked from the balance read to the
// commit, so two grants to the same target can never compute overlapping
// previous/new pairs. Grants are additive only.
func (l *Ledger) Grant(ctx context.Context, p GrantParams) (types.GrantResult, error) {
	var result types.GrantResult

	if !p.Kind.Balance() {
		return result, fmt.Errorf("%w: %q", ErrInvalidKind, p.Kind)
	}

	err := withTx(ctx, l.db, func(tx *sql.Tx) error {
		// The caller's role is re-read here: authority may have changed
		// between request authentication and execution, and the check
		// inside the transaction is the authoritative one.
		callerRole, err := roleOf(ctx, tx, p.CallerID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrNotAuthorized
			}
			return err
		}
		if !callerRole.CanGrant() {
			return ErrNotAuthorized
		}

		const lockTarget = `
			SELECT username, role, credits, days_remaining
			FROM users
			WHERE id = $1
			FOR UPDATE`
		var (
			username               string
			targetRole             types.Role
			credits, daysRemaining int
		)
		err = tx.QueryRowContext(ctx, lockTarget, p.TargetID).Scan(&username, &targetRole, &credits, &daysRemaining)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrInvalidTarget
			}
			return err
		}
		if targetRole != types.RoleUser {
			return ErrInvalidTarget
		}

		var previous int
		switch p.Kind {
		case types.KindCredits:
			previous = credits
			const update = `
				UPDATE users
				SET credits = credits + $1,
					last_credited_user_id = $2,
					last_credited_at = NOW(),
					updated_at = NOW()
				WHERE id = $3`
			if _, err := tx.ExecContext(ctx, update, p.Amount, p.CallerID, p.TargetID); err != nil {
				return err
			}
		case types.KindDays:
			previous = daysRemaining
			const update = `
				UPDATE users
				SET days_remaining = days_remaining + $1,
					last_credited_user_id = $2,
					last_credited_at = NOW(),
					updated_at = NOW()
				WHERE id = $3`
			if _, err := tx.ExecContext(ctx, update, p.Amount, p.CallerID, p.TargetID); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unhandled kind %q", p.Kind)
		}
		newAmount := previous + p.Amount

		if callerRole == types.RoleSeller {
			if err := bumpSellerAggregates(ctx, tx, p); err != nil {
				return err
			}
		}

		const insertEntry = `
			INSERT INTO credit_transactions
				(from_user_id, to_user_id, kind, amount, previous_amount, new_amount, reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`
		if _, err := tx.ExecContext(ctx, insertEntry,
			p.CallerID, p.TargetID, p.Kind, p.Amount, previous, newAmount, p.Reason,
		); err != nil {
			return err
		}

		result = types.GrantResult{
			TargetID:       p.TargetID,
			TargetUsername: username,
			Kind:           p.Kind,
			Amount:         p.Amount,
			PreviousAmount: previous,
			NewAmount:      newAmount,
		}
		return nil
	})
	if err != nil {
		return types.GrantResult{}, err
	}
	return result, nil
}

// bumpSellerAggregates updates the granting seller's cumulative counters.
// The transfer's own ledger row is inserted after this runs, so the distinct
// recipient probe sees only prior grants.
func bumpSellerAggregates(ctx context.Context, tx *sql.Tx, p GrantParams) error {
	const priorGrant = `
		SELECT EXISTS (
			SELECT 1 FROM credit_transactions
			WHERE from_user_id = $1 AND to_user_id = $2 AND kind IN ('credits', 'days')
		)`
	var seen bool
	if err := tx.QueryRowContext(ctx, priorGrant, p.CallerID, p.TargetID).Scan(&seen); err != nil {
		return err
	}

	newRecipient := 0
	if !seen {
		newRecipient = 1
	}
	creditsGiven, daysGiven := 0, 0
	if p.Kind == types.KindCredits {
		creditsGiven = p.Amount
	} else {
		daysGiven = p.Amount
	}

	const update = `
		UPDATE users
		SET total_credited_users = total_credited_users + $1,
			total_credits_given = total_credits_given + $2,
			total_days_given = total_days_given + $3,
			updated_at = NOW()
		WHERE id = $4`
	_, err := tx.ExecContext(ctx, update, newRecipient, creditsGiven, daysGiven, p.CallerID)
	return err
}

// ChangeRole moves the target account to newRole and records the transition.
// Role transitions for a target are serialized by the row lock; seller_since
// is stamped the first time an account becomes a seller and never overwritten.
func (l *Ledger) ChangeRole(ctx context.Context, callerID, targetID int, newRole types.Role) (types.RoleChange, error) {
	var result types.RoleChange

	if !newRole.Valid() {
		return result, ErrInvalidRole
	}

	err := withTx(ctx, l.db, func(tx *sql.Tx) error {
		callerRole, err := roleOf(ctx, tx, callerID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrNotAuthorized
			}
			return err
		}
		if callerRole != types.RoleAdmin {
			return ErrNotAuthorized
		}

		const lockTarget = `
			SELECT username, role
			FROM users
			WHERE id = $1
			FOR UPDATE`
		var (
			username string
			oldRole  types.Role
		)
		err = tx.QueryRowContext(ctx, lockTarget, targetID).Scan(&username, &oldRole)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		const update = `
			UPDATE users
			SET role = $1,
				seller_since = CASE
					WHEN $1 = 'seller' AND seller_since IS NULL THEN NOW()
					ELSE seller_since
				END,
				updated_at = NOW()
			WHERE id = $2`
		if _, err := tx.ExecContext(ctx, update, newRole, targetID); err != nil {
			return err
		}

		const insertEntry = `
			INSERT INTO credit_transactions
				(from_user_id, to_user_id, kind, old_role, new_role, reason)
			VALUES ($1, $2, 'role_change', $3, $4, '')`
		if _, err := tx.ExecContext(ctx, insertEntry, callerID, targetID, oldRole, newRole); err != nil {
			return err
		}

		result = types.RoleChange{
			TargetID:       targetID,
			TargetUsername: username,
			OldRole:        oldRole,
			NewRole:        newRole,
		}
		return nil
	})
	if err != nil {
		return types.RoleChange{}, err
	}
	return result, nil
}

func roleOf(ctx context.Context, tx *sql.Tx, userID int) (types.Role, error) {
	var role types.Role
	err := tx.QueryRowContext(ctx, `SELECT role FROM users WHERE id = $1`, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return role, nil
}

const transactionColumns = `
	id, from_user_id, to_user_id, kind, amount,
	previous_amount, new_amount, old_role, new_role, reason, created_at`

func scanTransaction(row interface{ Scan(...any) error }) (types.Transaction, error) {
	var t types.Transaction
	err := row.Scan(
		&t.ID,
		&t.FromUserID,
		&t.ToUserID,
		&t.Kind,
		&t.Amount,
		&t.PreviousAmount,
		&t.NewAmount,
		&t.OldRole,
		&t.NewRole,
		&t.Reason,
		&t.CreatedAt,
	)
	return t, err
}

// ListBySource returns the ledger entries originated by one account, newest
// first, plus the total count for pagination.
func (l *Ledger) ListBySource(ctx context.Context, fromUserID, offset, limit int) ([]types.Transaction, int, error) {
	var total int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credit_transactions WHERE from_user_id = $1`, fromUserID,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM credit_transactions
		WHERE from_user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`
	rows, err := l.db.QueryContext(ctx, query, fromUserID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := make([]types.Transaction, 0, limit)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

// SellerStats aggregates the outgoing balance entries of one seller straight
// from the ledger. This is a reporting view; the counters on the users row
// remain the authoritative aggregates.
func (l *Ledger) SellerStats(ctx context.Context, sellerID int) (types.SellerStats, error) {
	const query = `
		SELECT
			COUNT(DISTINCT to_user_id),
			COALESCE(SUM(CASE WHEN kind = 'credits' THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'days' THEN amount ELSE 0 END), 0),
			COUNT(*)
		FROM credit_transactions
		WHERE from_user_id = $1 AND kind IN ('credits', 'days')`
	var stats types.SellerStats
	err := l.db.QueryRowContext(ctx, query, sellerID).Scan(
		&stats.TotalUsersCredited,
		&stats.TotalCreditsGiven,
		&stats.TotalDaysGiven,
		&stats.TotalTransactions,
	)
	if err != nil {
		return types.SellerStats{}, err
	}
	return stats, nil
}

// ListSellerTransactions returns seller-originated entries joined with the
// usernames on both ends, newest first.
func (l *Ledger) ListSellerTransactions(ctx context.Context, offset, limit int) ([]types.SellerTransaction, int, error) {
	var total int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM credit_transactions ct
		JOIN users u ON ct.from_user_id = u.id AND u.role = 'seller'`,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	const query = `
		SELECT ct.id, ct.from_user_id, ct.to_user_id, ct.kind, ct.amount,
			ct.previous_amount, ct.new_amount, ct.old_role, ct.new_role,
			ct.reason, ct.created_at,
			u.username AS seller_username,
			u2.username AS user_username
		FROM credit_transactions ct
		JOIN users u ON ct.from_user_id = u.id AND u.role = 'seller'
		JOIN users u2 ON ct.to_user_id = u2.id
		ORDER BY ct.created_at DESC, ct.id DESC
		LIMIT $1 OFFSET $2`
	rows, err := l.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := make([]types.SellerTransaction, 0, limit)
	for rows.Next() {
		var t types.SellerTransaction
		err := rows.Scan(
			&t.ID,
			&t.FromUserID,
			&t.ToUserID,
			&t.Kind,
			&t.Amount,
			&t.PreviousAmount,
			&t.NewAmount,
			&t.OldRole,
			&t.NewRole,
			&t.Reason,
			&t.CreatedAt,
			&t.SellerUsername,
			&t.UserUsername,
		)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

// StreamAll walks every ledger entry in commit order and hands each one to fn.
// Used by the export service so the full ledger never sits in memory at once.
func (l *Ledger) StreamAll(ctx context.Context, fn func(types.Transaction) error) error {
	query := `
		SELECT ` + transactionColumns + `
		FROM credit_transactions
		ORDER BY id`
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
	}
	return rows.Err()
}

// PlatformStats summarizes accounts and ledger volume for the admin report.
func (l *Ledger) PlatformStats(ctx context.Context) (types.PlatformStats, error) {
	const query = `
		SELECT
			COUNT(*) FILTER (WHERE role = 'user'),
			COUNT(*) FILTER (WHERE role = 'seller'),
			COUNT(*) FILTER (WHERE role = 'admin'),
			COUNT(*) FILTER (WHERE is_active),
			COALESCE(SUM(credits), 0),
			COALESCE(SUM(days_remaining), 0),
			(SELECT COUNT(*) FROM credit_transactions)
		FROM users`
	var stats types.PlatformStats
	err := l.db.QueryRowContext(ctx, query).Scan(
		&stats.TotalUsers,
		&stats.TotalSellers,
		&stats.TotalAdmins,
		&stats.ActiveUsers,
		&stats.CreditsInCirculation,
		&stats.DaysInCirculation,
		&stats.TotalTransactions,
	)
	if err != nil {
		return types.PlatformStats{}, err
	}
	return stats, nil
}
