package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/abtime"

	"github.com/iliyamo/star-wheel/internal/config"
	"github.com/iliyamo/star-wheel/internal/database"
	"github.com/iliyamo/star-wheel/internal/logging"
	"github.com/iliyamo/star-wheel/internal/repository"
	"github.com/iliyamo/star-wheel/internal/service"
	"github.com/iliyamo/star-wheel/internal/utils"
)

const (
	testBotToken = "123456789:AAF-test-bot-token"
	testPassword = "qwe123QWE"
)

type testServer struct {
	e        *echo.Echo
	users    *service.UserService
	clock    *abtime.ManualTime
	telegram *utils.TelegramVerifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithLog(t, logging.Discard())
}

func newTestServerWithLog(t *testing.T, log logging.Logger) *testServer {
	t.Helper()
	db, err := database.Open(context.Background(), config.Config{
		DBDriver:   "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "e2e.sqlite"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := abtime.NewManualAtTime(time.Unix(1700000000, 0))
	tokens, err := utils.NewTokenIssuer("e2e-secret", "HS256", clock)
	require.NoError(t, err)
	telegram := utils.NewTelegramVerifier(testBotToken)
	repo := repository.NewUserRepo(db)

	auth := service.NewAuthService(repo, repository.NewReplayRepo(db), tokens, telegram, nil, clock, log, service.AuthOptions{
		AccessTTL:       30 * time.Minute,
		BcryptCost:      4,
		DefaultScopes:   []string{service.ScopeMe, service.ScopeUsers},
		AssertionScopes: []string{service.ScopeMe},
	})
	users := service.NewUserService(repo, nil, clock, log, 4)

	return &testServer{e: New(log, auth, users), users: users, clock: clock, telegram: telegram}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	switch b := body.(type) {
	case nil:
		req = httptest.NewRequest(method, path, nil)
	case url.Values:
		req = httptest.NewRequest(method, path, strings.NewReader(b.Encode()))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, strings.NewReader(string(raw)))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(t *testing.T, login, scope string) string {
	t.Helper()
	form := url.Values{"username": {login}, "password": {testPassword}, "grant_type": {"password"}}
	if scope != "" {
		form.Set("scope", scope)
	}
	rec := s.do(t, http.MethodPost, "/token", "", form)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "bearer", out.TokenType)
	require.NotEmpty(t, out.AccessToken)
	return out.AccessToken
}

func (s *testServer) seedAdmin(t *testing.T) string {
	t.Helper()
	u, err := s.users.Register(context.Background(), service.RegisterInput{Login: "admin", Password: testPassword})
	require.NoError(t, err)
	return u.ID
}

func (s *testServer) widgetPayload(authDate int64) map[string]any {
	d := utils.TelegramAuthData{
		ID:        224282757,
		FirstName: "Nikita",
		Username:  "wheelov",
		PhotoURL:  "https://t.me/i/userpic/320/u3QkAFzZQqugQszk0OwYvvSsBrOw923GjCM1LiU-VSc.jpg",
		AuthDate:  authDate,
	}
	return map[string]any{
		"id":         d.ID,
		"first_name": d.FirstName,
		"username":   d.Username,
		"photo_url":  d.PhotoURL,
		"auth_date":  d.AuthDate,
		"hash":       s.telegram.Sign(d),
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestPasswordLoginThenMe(t *testing.T) {
	s := newTestServer(t)
	id := s.seedAdmin(t)
	token := s.login(t, "admin", "")

	rec := s.do(t, http.MethodGet, "/users/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode(t, rec)
	assert.Equal(t, "admin", me["login"])
	assert.Equal(t, id, me["id"])
	assert.NotContains(t, me, "password_hash")
}

func TestTokenRejectsBadCredentials(t *testing.T) {
	s := newTestServer(t)
	s.seedAdmin(t)

	for _, form := range []url.Values{
		{"username": {"admin"}, "password": {"wrong"}},
		{"username": {"nobody"}, "password": {testPassword}},
	} {
		rec := s.do(t, http.MethodPost, "/token", "", form)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"detail":"Incorrect username or password"}`, rec.Body.String())
	}
}

func TestTelegramLoginAndReplay(t *testing.T) {
	s := newTestServer(t)
	payload := s.widgetPayload(s.clock.Now().Unix())

	rec := s.do(t, http.MethodPost, "/telegram_login", "", payload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, "bearer", out["token_type"])

	me := s.do(t, http.MethodGet, "/users/me", out["access_token"].(string), nil)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Equal(t, "wheelov", decode(t, me)["login"])

	rec = s.do(t, http.MethodPost, "/telegram_login", "", payload)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"detail":"Compromised authentication date"}`, rec.Body.String())
}

func TestTelegramLoginViaQuery(t *testing.T) {
	s := newTestServer(t)
	q := url.Values{}
	for k, v := range s.widgetPayload(1565899537) {
		q.Set(k, fmt.Sprint(v))
	}

	rec := s.do(t, http.MethodPost, "/telegram_login?"+q.Encode(), "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestTelegramLoginTampered(t *testing.T) {
	s := newTestServer(t)
	payload := s.widgetPayload(1565899537)
	payload["first_name"] = "NotNikita"

	rec := s.do(t, http.MethodPost, "/telegram_login", "", payload)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"detail":"Compromised telegram user data"}`, rec.Body.String())
}

func TestTelegramLoginConcurrentReplay(t *testing.T) {
	s := newTestServer(t)
	payload := s.widgetPayload(1565899537)

	const n = 6
	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = s.do(t, http.MethodPost, "/telegram_login", "", payload).Code
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, c := range codes {
		if c == http.StatusOK {
			ok++
		} else {
			assert.Equal(t, http.StatusBadRequest, c)
		}
	}
	assert.Equal(t, 1, ok)
}

func TestUserManagement(t *testing.T) {
	s := newTestServer(t)
	s.seedAdmin(t)
	token := s.login(t, "admin", "")

	rec := s.do(t, http.MethodPost, "/users", token, map[string]string{"login": "user", "password": testPassword})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	assert.Equal(t, "user", created["login"])
	id := created["id"].(string)

	rec = s.do(t, http.MethodPost, "/users", token, map[string]string{"login": "user", "password": testPassword})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/users", token, map[string]string{"login": "", "password": testPassword})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/users?skip=0&limit=100", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec = s.do(t, http.MethodGet, "/users?limit=x", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/users/"+id, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user", decode(t, rec)["login"])

	rec = s.do(t, http.MethodDelete, "/users/"+id, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/users/"+id, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"detail":"User not found"}`, rec.Body.String())

	rec = s.do(t, http.MethodDelete, "/users/"+id, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAbsentUser(t *testing.T) {
	s := newTestServer(t)
	s.seedAdmin(t)
	token := s.login(t, "admin", "")

	rec := s.do(t, http.MethodGet, "/users/5b0f1c2e-9b55-4a7e-8a43-1f3f8c0a9d11", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"detail":"User not found"}`, rec.Body.String())
}

func TestScopesEnforced(t *testing.T) {
	s := newTestServer(t)
	s.seedAdmin(t)
	token := s.login(t, "admin", "me")

	rec := s.do(t, http.MethodGet, "/users/me", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/users", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"detail":"Not enough permissions"}`, rec.Body.String())
	assert.Equal(t, `Bearer scope="users"`, rec.Header().Get(echo.HeaderWWWAuthenticate))
}

func TestUnauthenticated(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"detail":"Could not validate credentials"}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/users/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTokenExpires(t *testing.T) {
	s := newTestServer(t)
	s.seedAdmin(t)
	token := s.login(t, "admin", "")

	s.clock.Advance(30 * time.Minute)
	rec := s.do(t, http.MethodGet, "/users/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"detail":"Could not validate credentials"}`, rec.Body.String())
}

func TestDisableInvalidatesToken(t *testing.T) {
	s := newTestServer(t)
	s.seedAdmin(t)
	admin := s.login(t, "admin", "")

	_, err := s.users.Register(context.Background(), service.RegisterInput{Login: "user", Password: testPassword})
	require.NoError(t, err)
	userToken := s.login(t, "user", "me")
	rec := s.do(t, http.MethodGet, "/users/me", userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode(t, rec)["id"].(string)

	rec = s.do(t, http.MethodPost, "/users/"+id+"/disable", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["disabled"])

	rec = s.do(t, http.MethodGet, "/users/me", userToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"detail":"Inactive user"}`, rec.Body.String())
}

func TestRejectedLoginsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	s := newTestServerWithLog(t, logging.New(&buf, "dev", "debug"))
	s.seedAdmin(t)

	rec := s.do(t, http.MethodPost, "/token", "", url.Values{"username": {"admin"}, "password": {"wrong"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	payload := s.widgetPayload(1565899537)
	payload["first_name"] = "NotNikita"
	rec = s.do(t, http.MethodPost, "/telegram_login", "", payload)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	out := buf.String()
	assert.Contains(t, out, "password login rejected")
	assert.Contains(t, out, "login=admin")
	assert.Contains(t, out, "telegram login rejected")
	assert.Contains(t, out, `reason="bad signature"`)
}

func TestRejectedCreateIsLogged(t *testing.T) {
	var buf bytes.Buffer
	s := newTestServerWithLog(t, logging.New(&buf, "dev", "debug"))
	s.seedAdmin(t)
	token := s.login(t, "admin", "")

	rec := s.do(t, http.MethodPost, "/users", token, map[string]string{"login": "admin", "password": testPassword})
	require.Equal(t, http.StatusConflict, rec.Code)

	assert.Contains(t, buf.String(), "user create rejected")
}
