package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/star-wheel/internal/logging"
	"github.com/iliyamo/star-wheel/internal/service"
	"github.com/iliyamo/star-wheel/internal/utils" // token and Telegram payload types
)

// AuthHandler bundles dependencies for login endpoints.
type AuthHandler struct {
	Auth *service.AuthService
	Log  logging.Logger
}

func NewAuthHandler(a *service.AuthService, log logging.Logger) *AuthHandler {
	return &AuthHandler{Auth: a, Log: log}
}

// ----- DTOs -----

// tokenReq is the OAuth2 password grant form.
type tokenReq struct {
	GrantType string `form:"grant_type"`
	Username  string `form:"username"`
	Password  string `form:"password"`
	Scope     string `form:"scope"` // space separated
}

type tokenResp struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Token: OAuth2 password grant.  Exchanges login and password for a bearer
// token carrying the requested scopes.
func (h *AuthHandler) Token(c echo.Context) error {
	var req tokenReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"detail": "invalid body"})
	}
	if req.GrantType != "" && req.GrantType != "password" {
		return c.JSON(http.StatusBadRequest, echo.Map{"detail": "unsupported grant_type"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Auth.LoginWithPassword(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.Log.Debug(ctx, "password login rejected", "login", req.Username, "remote_ip", c.RealIP())
			return c.JSON(http.StatusBadRequest, echo.Map{"detail": "Incorrect username or password"})
		}
		return err
	}

	tok, err := h.Auth.IssueToken(u, h.Auth.GrantScopes(strings.Fields(req.Scope)))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tokenResp{AccessToken: tok.Token, TokenType: utils.TokenType})
}

// TelegramLogin: exchanges a Telegram Login Widget payload for a bearer
// token.  Fields are read from the query string and then from the body, so
// both the widget redirect and a JSON POST work.
func (h *AuthHandler) TelegramLogin(c echo.Context) error {
	var data utils.TelegramAuthData
	b := &echo.DefaultBinder{}
	if err := b.BindQueryParams(c, &data); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"detail": "invalid query"})
	}
	if err := b.BindBody(c, &data); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"detail": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Auth.LoginWithAssertion(ctx, data)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrReplayedTimestamp):
		h.Log.Warn(ctx, "telegram login rejected", "reason", "replayed auth_date", "telegram_id", data.ID, "auth_date", data.AuthDate)
		return c.JSON(http.StatusBadRequest, echo.Map{"detail": "Compromised authentication date"})
	case errors.Is(err, service.ErrInvalidSignature):
		h.Log.Warn(ctx, "telegram login rejected", "reason", "bad signature", "telegram_id", data.ID, "remote_ip", c.RealIP())
		return c.JSON(http.StatusBadRequest, echo.Map{"detail": "Compromised telegram user data"})
	default:
		return err
	}

	tok, err := h.Auth.IssueAssertionToken(u)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tokenResp{AccessToken: tok.Token, TokenType: utils.TokenType})
}
