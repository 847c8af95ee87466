package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/thejerf/abtime"

	"github.com/iliyamo/star-wheel/internal/config"
	"github.com/iliyamo/star-wheel/internal/database"
	"github.com/iliyamo/star-wheel/internal/logging"
	"github.com/iliyamo/star-wheel/internal/queue"
	"github.com/iliyamo/star-wheel/internal/repository"
	"github.com/iliyamo/star-wheel/internal/utils"
)

const (
	testSecret   = "09d25e094faa6ca2556c818166b7a9563b93f7099f6f0f4caa6cf63b88e8d3e7"
	testBotToken = "123456789:AAF-test-bot-token"
	testPassword = "qwe123QWE"
	testTTL      = 30 * time.Minute
)

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.AuthEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.AuthEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	auth     *AuthService
	users    *UserService
	repo     *repository.UserRepo
	clock    *abtime.ManualTime
	events   *recordingPublisher
	telegram *utils.TelegramVerifier
}

// newFixture wires both services on a fresh SQLite database.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(context.Background(), config.Config{
		DBDriver:   "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "service.sqlite"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := abtime.NewManualAtTime(time.Unix(1700000000, 0))
	tokens, err := utils.NewTokenIssuer(testSecret, "HS256", clock)
	require.NoError(t, err)

	repo := repository.NewUserRepo(db)
	events := &recordingPublisher{}
	telegram := utils.NewTelegramVerifier(testBotToken)
	log := logging.Discard()

	return &fixture{
		auth: NewAuthService(repo, repository.NewReplayRepo(db), tokens, telegram, events, clock, log, AuthOptions{
			AccessTTL:       testTTL,
			BcryptCost:      4,
			DefaultScopes:   []string{ScopeMe, ScopeUsers},
			AssertionScopes: []string{ScopeMe},
		}),
		users:    NewUserService(repo, events, clock, log, 4),
		repo:     repo,
		clock:    clock,
		events:   events,
		telegram: telegram,
	}
}

// signedAssertion returns a correctly signed widget payload.
func (f *fixture) signedAssertion(authDate int64) utils.TelegramAuthData {
	d := utils.TelegramAuthData{
		ID:        224282757,
		FirstName: "Nikita",
		Username:  "wheelov",
		PhotoURL:  "https://t.me/i/userpic/320/u3QkAFzZQqugQszk0OwYvvSsBrOw923GjCM1LiU-VSc.jpg",
		AuthDate:  authDate,
	}
	d.Hash = f.telegram.Sign(d)
	return d
}
