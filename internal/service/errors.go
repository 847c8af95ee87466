package service

import "errors"

// Outcomes of the auth core.  Handlers map these onto HTTP responses; the
// messages are deliberately generic.
var (
	// ErrInvalidCredentials covers both an unknown login and a wrong
	// password so callers cannot tell which one failed.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidSignature means the Telegram payload was not signed by our bot.
	ErrInvalidSignature = errors.New("invalid assertion signature")
	// ErrReplayedTimestamp means the Telegram auth_date was already used.
	ErrReplayedTimestamp = errors.New("assertion timestamp already used")

	ErrTokenMalformed = errors.New("could not validate credentials")
	ErrTokenExpired   = errors.New("token expired")
	// ErrUnauthorized means the token lacks a required scope.
	ErrUnauthorized = errors.New("not enough permissions")
	ErrDisabled     = errors.New("inactive user")

	ErrNotFound   = errors.New("user not found")
	ErrLoginTaken = errors.New("login already taken")
	ErrValidation = errors.New("validation error")
)
