package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/thejerf/abtime"

	"github.com/iliyamo/star-wheel/internal/logging"
	"github.com/iliyamo/star-wheel/internal/model"
	"github.com/iliyamo/star-wheel/internal/queue"
	"github.com/iliyamo/star-wheel/internal/repository"
	"github.com/iliyamo/star-wheel/internal/utils"
)

// DefaultListLimit is used when a listing asks for no limit.
const DefaultListLimit = 100

const maxLoginLen = 64

// RegisterInput is the data needed to create a password account.
type RegisterInput struct {
	Login     string
	Password  string
	FirstName string
	LastName  string
	PhotoURL  string
}

// UserService manages user accounts.
type UserService struct {
	users      UserStore
	events     EventPublisher
	clock      abtime.AbstractTime
	log        logging.Logger
	bcryptCost int
}

func NewUserService(users UserStore, events EventPublisher, clock abtime.AbstractTime,
	log logging.Logger, bcryptCost int) *UserService {
	if events == nil {
		events = NopPublisher{}
	}
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	if log == nil {
		log = logging.Discard()
	}
	return &UserService{users: users, events: events, clock: clock, log: log.With("component", "users"), bcryptCost: bcryptCost}
}

// Register creates a password account.  The login is trimmed; it must be
// non-empty, at most 64 characters and free of whitespace.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (model.User, error) {
	login := strings.TrimSpace(in.Login)
	if err := validateLogin(login); err != nil {
		return model.User{}, err
	}
	if in.Password == "" {
		return model.User{}, fmt.Errorf("%w: password is required", ErrValidation)
	}
	hash, err := utils.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.users.Create(ctx, model.User{
		Login:        &login,
		PasswordHash: &hash,
		FirstName:    model.StrPtr(strings.TrimSpace(in.FirstName)),
		LastName:     model.StrPtr(strings.TrimSpace(in.LastName)),
		PhotoURL:     model.StrPtr(strings.TrimSpace(in.PhotoURL)),
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return model.User{}, ErrLoginTaken
		}
		return model.User{}, fmt.Errorf("create user: %w", err)
	}

	s.log.Info(ctx, "user registered", "user_id", u.ID, "login", login)
	publish(ctx, s.events, s.log, s.clock.Now(), queue.AuthEvent{
		Type: queue.EventUserCreated, UserID: u.ID, Login: login,
	})
	return u.Sanitized(), nil
}

// Get returns a user by id.
func (s *UserService) Get(ctx context.Context, id string) (model.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return model.User{}, mapNotFound(err)
	}
	return u.Sanitized(), nil
}

// List returns users ordered by id.  A negative skip counts as zero and a
// non-positive limit as DefaultListLimit.
func (s *UserService) List(ctx context.Context, skip, limit int) ([]model.User, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	users, err := s.users.List(ctx, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for i := range users {
		users[i] = users[i].Sanitized()
	}
	return users, nil
}

// Delete removes a user.  Tokens already issued to it stop resolving.
func (s *UserService) Delete(ctx context.Context, id string) error {
	if err := s.users.Delete(ctx, id); err != nil {
		return mapNotFound(err)
	}
	s.log.Info(ctx, "user deleted", "user_id", id)
	publish(ctx, s.events, s.log, s.clock.Now(), queue.AuthEvent{Type: queue.EventUserDeleted, UserID: id})
	return nil
}

// Disable marks a user disabled and returns the updated record.  Disabling
// an already disabled user is not an error.
func (s *UserService) Disable(ctx context.Context, id string) (model.User, error) {
	if err := s.users.SetDisabled(ctx, id, true); err != nil {
		return model.User{}, mapNotFound(err)
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return model.User{}, mapNotFound(err)
	}
	s.log.Info(ctx, "user disabled", "user_id", id)
	publish(ctx, s.events, s.log, s.clock.Now(), queue.AuthEvent{
		Type: queue.EventUserDisabled, UserID: id, Login: deref(u.Login),
	})
	return u.Sanitized(), nil
}

func validateLogin(login string) error {
	if login == "" {
		return fmt.Errorf("%w: login is required", ErrValidation)
	}
	if len([]rune(login)) > maxLoginLen {
		return fmt.Errorf("%w: login longer than %d characters", ErrValidation, maxLoginLen)
	}
	if strings.IndexFunc(login, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: login must not contain whitespace", ErrValidation)
	}
	return nil
}

func mapNotFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("db error: %w", err)
}
