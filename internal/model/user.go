package model

import "time"

// User represents an account record as stored in the `users` table.  An
// account is usable for password login when PasswordHash is set and for
// Telegram login when TelegramID is set; accounts auto-provisioned from a
// Telegram assertion carry no password.
//
// Fields:
//
//	ID           – UUID primary key, stable for the account's lifetime.
//	Login        – unique login handle; nil for assertion-only accounts whose
//	               Telegram username was absent or already taken.
//	TelegramID   – unique numeric Telegram user id.
//	PasswordHash – bcrypt hash; never rendered in JSON.
//	FirstName, LastName, PhotoURL – display metadata.
//	Disabled     – disabled accounts cannot resolve their tokens.
type User struct {
	ID           string  `json:"id"`
	Login        *string `json:"login"`
	TelegramID   *int64  `json:"telegram_id"`
	PasswordHash *string `json:"-"`
	FirstName    *string `json:"first_name"`
	LastName     *string `json:"last_name"`
	PhotoURL     *string `json:"photo_url"`
	Disabled     bool    `json:"disabled"`
}

// HasPassword reports whether the account can log in with a password.
func (u User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// Sanitized returns a copy of u without the password hash.
func (u User) Sanitized() User {
	u.PasswordHash = nil
	return u
}

// ReplayRecord models a row in the `telegram_timestamps` table: a Telegram
// auth_date that has already been accepted once.  AuthDate is unique across
// all Telegram accounts.
type ReplayRecord struct {
	AuthDate   int64     // telegram_timestamps.auth_date (unix seconds)
	TelegramID int64     // telegram_timestamps.telegram_id
	SeenAt     time.Time // telegram_timestamps.seen_at
}

// StrPtr returns a pointer to s, or nil when s is empty.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
