package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

	"github.com/iliyamo/star-wheel/internal/model"
	"github.com/iliyamo/star-wheel/internal/service"
)

// UserResolver maps a bearer token to the live user it belongs to.
type UserResolver interface {
	ResolveCurrentUser(ctx context.Context, token string, required ...string) (model.User, error)
}

// JWTAuth returns an Echo middleware that validates a Bearer access token,
// checks that it carries every scope in scopes and stores the resolved user
// in the request context.  Handlers read it back with CurrentUser.
//
// Authentication failures answer 401 with a WWW-Authenticate challenge that
// names the required scopes.  Store failures are passed on to the error
// handler.
func JWTAuth(resolver UserResolver, scopes ...string) echo.MiddlewareFunc {
	challenge := "Bearer"
	if len(scopes) > 0 {
		challenge = `Bearer scope="` + strings.Join(scopes, " ") + `"`
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return unauthorized(c, challenge, "Could not validate credentials")
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
			defer cancel()

			u, err := resolver.ResolveCurrentUser(ctx, raw, scopes...)
			switch {
			case err == nil:
			case errors.Is(err, service.ErrTokenMalformed), errors.Is(err, service.ErrTokenExpired):
				return unauthorized(c, challenge, "Could not validate credentials")
			case errors.Is(err, service.ErrUnauthorized):
				return unauthorized(c, challenge, "Not enough permissions")
			case errors.Is(err, service.ErrDisabled):
				return unauthorized(c, challenge, "Inactive user")
			default:
				return err
			}

			setCurrentUser(c, u)
			return next(c)
		}
	}
}

// bearerToken extracts the credentials of an "Authorization: Bearer <token>"
// header.  The scheme is matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(c echo.Context, challenge, detail string) error {
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, challenge)
	return c.JSON(http.StatusUnauthorized, echo.Map{"detail": detail})
}
