package types

import "time"

// Kind discriminates ledger entries. It is a closed set: balance mutations
// carry an amount, role changes carry the old/new role pair instead.
type Kind string

const (
	KindCredits    Kind = "credits"
	KindDays       Kind = "days"
	KindRoleChange Kind = "role_change"
)

// Balance reports whether the kind mutates a numeric balance.
func (k Kind) Balance() bool {
	return k == KindCredits || k == KindDays
}

// Transaction is one immutable ledger entry. Rows are appended exactly once
// per coordinator invocation and never updated or deleted.
type Transaction struct {
	ID int `json:"id" db:"id"`

	// FromUserID is the granting account. Nil for system-originated changes.
	FromUserID *int `json:"from_user_id,omitempty" db:"from_user_id"`

	// ToUserID is the affected account.
	ToUserID int `json:"to_user_id" db:"to_user_id"`

	Kind Kind `json:"kind" db:"kind"`

	// Amount, PreviousAmount and NewAmount are set for credits/days entries.
	Amount         *int `json:"amount,omitempty" db:"amount"`
	PreviousAmount *int `json:"previous_amount,omitempty" db:"previous_amount"`
	NewAmount      *int `json:"new_amount,omitempty" db:"new_amount"`

	// OldRole and NewRole are set for role_change entries.
	OldRole *Role `json:"old_role,omitempty" db:"old_role"`
	NewRole *Role `json:"new_role,omitempty" db:"new_role"`

	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// GrantResult reports the balance movement applied by a successful grant.
type GrantResult struct {
	TargetID       int    `json:"target_id"`
	TargetUsername string `json:"target_username"`
	Kind           Kind   `json:"kind"`
	Amount         int    `json:"amount"`
	PreviousAmount int    `json:"previous_amount"`
	NewAmount      int    `json:"new_amount"`
}

// RoleChange reports a committed role transition.
type RoleChange struct {
	TargetID       int    `json:"target_id"`
	TargetUsername string `json:"target_username"`
	OldRole        Role   `json:"old_role"`
	NewRole        Role   `json:"new_role"`
}

// SellerStats aggregates a seller's outgoing ledger entries.
type SellerStats struct {
	TotalUsersCredited int `json:"total_users_credited"`
	TotalCreditsGiven  int `json:"total_credits_given"`
	TotalDaysGiven     int `json:"total_days_given"`
	TotalTransactions  int `json:"total_transactions"`
}

// SellerTransaction is a ledger entry joined with the usernames on both ends,
// as surfaced by the admin report.
type SellerTransaction struct {
	Transaction
	SellerUsername string `json:"seller_username" db:"seller_username"`
	UserUsername   string `json:"user_username" db:"user_username"`
}

// PlatformStats is the admin-facing platform summary.
type PlatformStats struct {
	TotalUsers           int `json:"total_users"`
	TotalSellers         int `json:"total_sellers"`
	TotalAdmins          int `json:"total_admins"`
	ActiveUsers          int `json:"active_users"`
	CreditsInCirculation int `json:"credits_in_circulation"`
	DaysInCirculation    int `json:"days_in_circulation"`
	TotalTransactions    int `json:"total_transactions"`
}
