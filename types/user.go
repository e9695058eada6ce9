package types

import "time"

// User represents an account in the system.
// It contains identity, balances, role, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Username is the unique login name chosen by the user.
	Username string `json:"username" db:"username"`

	// DisplayName is the user's display or full name.
	DisplayName string `json:"display_name" db:"display_name"`

	// Role indicates the user's authorization level within the
	// system: "admin", "seller", or "user".
	Role Role `json:"role" db:"role"`

	// Credits is the user's current check-credit balance.
	Credits int `json:"credits" db:"credits"`

	// DaysRemaining is the number of subscription days left.
	DaysRemaining int `json:"days_remaining" db:"days_remaining"`

	// IsActive is false until the account passes Telegram verification,
	// and may be flipped back by an admin. Accounts are never deleted.
	IsActive bool `json:"is_active" db:"is_active"`

	// TelegramUsername is the Telegram handle codes are delivered to.
	TelegramUsername string `json:"telegram_username,omitempty" db:"telegram_username"`

	// TelegramChatID is the chat linked via the bot's /start command.
	// Zero until the user has messaged the bot.
	TelegramChatID int64 `json:"-" db:"telegram_chat_id"`

	// TelegramVerified records whether the account completed verification.
	TelegramVerified bool `json:"telegram_verified" db:"telegram_verified"`

	// VerifiedAt is when verification completed.
	VerifiedAt *time.Time `json:"verified_at,omitempty" db:"verified_at"`

	// CreatedBy is the id of the account that registered this one, when known.
	CreatedBy *int `json:"created_by,omitempty" db:"created_by"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// LastLogin is the timestamp of the most recent successful login.
	LastLogin *time.Time `json:"last_login,omitempty" db:"last_login"`

	// Seller aggregates. Only meaningful while Role is "seller".
	TotalCreditedUsers int        `json:"total_credited_users" db:"total_credited_users"`
	TotalCreditsGiven  int        `json:"total_credits_given" db:"total_credits_given"`
	TotalDaysGiven     int        `json:"total_days_given" db:"total_days_given"`
	SellerSince        *time.Time `json:"seller_since,omitempty" db:"seller_since"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Role is a user's authorization level.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleSeller Role = "seller"
	RoleUser   Role = "user"
)

// Valid reports whether r is one of the recognized roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSeller, RoleUser:
		return true
	}
	return false
}

// CanGrant reports whether the role is allowed to move balances.
func (r Role) CanGrant() bool {
	return r == RoleAdmin || r == RoleSeller
}
