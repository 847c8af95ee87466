// Package queue defines message payloads exchanged over the message broker
// and the background consumer that turns them into an audit log.
package queue

// AuthEventsQueue is the durable queue every auth event is published to.
const AuthEventsQueue = "auth.events"

// Event types.
const (
	EventUserCreated    = "user.created"
	EventUserDeleted    = "user.deleted"
	EventUserDisabled   = "user.disabled"
	EventLoginSucceeded = "login.succeeded"
)

// Login methods carried by EventLoginSucceeded.
const (
	MethodPassword = "password"
	MethodTelegram = "telegram"
)

// AuthEvent is published whenever an account changes or a login succeeds.
// It carries enough for downstream consumers to audit without querying the
// primary database.
type AuthEvent struct {
	Type       string `json:"type"`
	UserID     string `json:"user_id"`
	Login      string `json:"login,omitempty"`
	TelegramID int64  `json:"telegram_id,omitempty"`
	Method     string `json:"method,omitempty"`
	OccurredAt string `json:"occurred_at"`
}
