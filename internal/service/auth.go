// Package service holds the auth core: password and Telegram login, token
// issuance and resolution of the current user, plus user management.
// Handlers talk to this package only; storage sits behind small interfaces.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/thejerf/abtime"

	"github.com/iliyamo/star-wheel/internal/logging"
	"github.com/iliyamo/star-wheel/internal/model"
	"github.com/iliyamo/star-wheel/internal/queue"
	"github.com/iliyamo/star-wheel/internal/repository"
	"github.com/iliyamo/star-wheel/internal/utils"
)

// Scopes understood by the HTTP surface.
const (
	ScopeMe    = "me"
	ScopeUsers = "users"
)

// ScopeDescriptions lists every known scope.
var ScopeDescriptions = map[string]string{
	ScopeMe:    "Read information about the current user.",
	ScopeUsers: "Manage user accounts.",
}

// UserStore is the credential store as seen by the services.
type UserStore interface {
	GetByID(ctx context.Context, id string) (model.User, error)
	GetByLogin(ctx context.Context, login string) (model.User, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (model.User, error)
	Create(ctx context.Context, u model.User) (model.User, error)
	FindOrCreateByTelegramID(ctx context.Context, u model.User) (model.User, bool, error)
	List(ctx context.Context, skip, limit int) ([]model.User, error)
	Delete(ctx context.Context, id string) error
	SetDisabled(ctx context.Context, id string, disabled bool) error
}

// ReplayLog remembers accepted Telegram auth dates.  Record must be atomic:
// of two concurrent calls with the same auth date exactly one succeeds and
// the other returns repository.ErrDuplicate.
type ReplayLog interface {
	HasSeen(ctx context.Context, authDate int64) (bool, error)
	Record(ctx context.Context, rec model.ReplayRecord) error
}

// AuthOptions carries the immutable settings of an AuthService.
type AuthOptions struct {
	AccessTTL       time.Duration
	BcryptCost      int
	DefaultScopes   []string // granted to password logins that request nothing
	AssertionScopes []string // granted to Telegram logins
}

// AuthService implements password and Telegram login and resolves bearer
// tokens back to users.  It is safe for concurrent use.
type AuthService struct {
	users    UserStore
	replay   ReplayLog
	tokens   *utils.TokenIssuer
	telegram *utils.TelegramVerifier
	events   EventPublisher
	clock    abtime.AbstractTime
	log      logging.Logger
	opts     AuthOptions

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService wires an AuthService.  A nil events publisher drops events
// and a nil clock means the real time.
func NewAuthService(users UserStore, replay ReplayLog, tokens *utils.TokenIssuer,
	telegram *utils.TelegramVerifier, events EventPublisher, clock abtime.AbstractTime,
	log logging.Logger, opts AuthOptions) *AuthService {
	if events == nil {
		events = NopPublisher{}
	}
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	if log == nil {
		log = logging.Discard()
	}
	opts.DefaultScopes = knownScopes(opts.DefaultScopes)
	opts.AssertionScopes = knownScopes(opts.AssertionScopes)
	return &AuthService{
		users:    users,
		replay:   replay,
		tokens:   tokens,
		telegram: telegram,
		events:   events,
		clock:    clock,
		log:      log.With("component", "auth"),
		opts:     opts,
	}
}

// LoginWithPassword returns the user owning login when password matches.
// An unknown login, an account without a password and a wrong password all
// yield ErrInvalidCredentials.
func (s *AuthService) LoginWithPassword(ctx context.Context, login, password string) (model.User, error) {
	u, err := s.users.GetByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// spend the same bcrypt time as a real check
			utils.VerifyPassword(s.dummy(), password)
			return model.User{}, ErrInvalidCredentials
		}
		return model.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if !u.HasPassword() || !utils.VerifyPassword(*u.PasswordHash, password) {
		return model.User{}, ErrInvalidCredentials
	}

	publish(ctx, s.events, s.log, s.clock.Now(), queue.AuthEvent{
		Type: queue.EventLoginSucceeded, UserID: u.ID, Login: deref(u.Login), Method: queue.MethodPassword,
	})
	return u.Sanitized(), nil
}

// LoginWithAssertion accepts a Telegram Login Widget payload and returns the
// user linked to its Telegram id, provisioning one on first login.  A reused
// auth_date yields ErrReplayedTimestamp whatever the signature; a payload not
// signed by our bot yields ErrInvalidSignature and is not remembered.
//
// Any auth_date not seen before is accepted, however old.
func (s *AuthService) LoginWithAssertion(ctx context.Context, data utils.TelegramAuthData) (model.User, error) {
	seen, err := s.replay.HasSeen(ctx, data.AuthDate)
	if err != nil {
		return model.User{}, fmt.Errorf("replay lookup: %w", err)
	}
	if seen {
		return model.User{}, ErrReplayedTimestamp
	}
	if err := s.telegram.CheckSignature(data); err != nil {
		return model.User{}, ErrInvalidSignature
	}

	err = s.replay.Record(ctx, model.ReplayRecord{
		AuthDate:   data.AuthDate,
		TelegramID: data.ID,
		SeenAt:     s.clock.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return model.User{}, ErrReplayedTimestamp
		}
		return model.User{}, fmt.Errorf("replay record: %w", err)
	}

	tgID := data.ID
	u, created, err := s.users.FindOrCreateByTelegramID(ctx, model.User{
		Login:      model.StrPtr(data.Username),
		TelegramID: &tgID,
		FirstName:  model.StrPtr(data.FirstName),
		LastName:   model.StrPtr(data.LastName),
		PhotoURL:   model.StrPtr(data.PhotoURL),
	})
	if err != nil {
		return model.User{}, fmt.Errorf("provision telegram user: %w", err)
	}

	now := s.clock.Now()
	if created {
		s.log.Info(ctx, "user provisioned from telegram", "user_id", u.ID, "telegram_id", tgID)
		publish(ctx, s.events, s.log, now, queue.AuthEvent{
			Type: queue.EventUserCreated, UserID: u.ID, Login: deref(u.Login), TelegramID: tgID,
		})
	}
	publish(ctx, s.events, s.log, now, queue.AuthEvent{
		Type: queue.EventLoginSucceeded, UserID: u.ID, Login: deref(u.Login), TelegramID: tgID, Method: queue.MethodTelegram,
	})
	return u.Sanitized(), nil
}

// ResolveCurrentUser maps a bearer token to its live user.  The token must
// verify, carry every required scope and belong to an existing enabled
// account; state is re-read on every call so disabling a user takes effect
// for tokens already issued.
func (s *AuthService) ResolveCurrentUser(ctx context.Context, token string, required ...string) (model.User, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		if errors.Is(err, utils.ErrTokenExpired) {
			return model.User{}, ErrTokenExpired
		}
		return model.User{}, ErrTokenMalformed
	}

	u, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.User{}, ErrTokenMalformed
		}
		return model.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if !utils.CheckScopes(claims.Scopes, required) {
		return model.User{}, ErrUnauthorized
	}
	if u.Disabled {
		return model.User{}, ErrDisabled
	}
	return u.Sanitized(), nil
}

// GrantScopes returns the scopes a password login receives for requested:
// the known ones among them, or the default scopes when nothing is requested.
func (s *AuthService) GrantScopes(requested []string) []string {
	if len(requested) == 0 {
		return append([]string(nil), s.opts.DefaultScopes...)
	}
	return knownScopes(requested)
}

// IssueToken signs a session token for u carrying exactly scopes.
func (s *AuthService) IssueToken(u model.User, scopes []string) (utils.AccessToken, error) {
	return s.tokens.Issue(u.ID, scopes, s.opts.AccessTTL)
}

// IssueAssertionToken signs a session token for a Telegram login.
func (s *AuthService) IssueAssertionToken(u model.User) (utils.AccessToken, error) {
	return s.IssueToken(u, s.opts.AssertionScopes)
}

func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := utils.HashPassword("star-wheel-dummy-password", s.opts.BcryptCost)
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}

// knownScopes keeps the known scopes of in, deduplicated, in input order.
func knownScopes(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, sc := range in {
		if _, ok := ScopeDescriptions[sc]; !ok || seen[sc] {
			continue
		}
		seen[sc] = true
		out = append(out, sc)
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
