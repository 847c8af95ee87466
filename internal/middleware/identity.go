package middleware

// identity.go stores and reads the authenticated user on the Echo context.
// JWTAuth is the only writer.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/star-wheel/internal/model"
)

const currentUserKey = "current_user"

func setCurrentUser(c echo.Context, u model.User) {
	c.Set(currentUserKey, u)
}

// CurrentUser returns the user resolved by JWTAuth.  ok is false on routes
// that are not behind JWTAuth.
func CurrentUser(c echo.Context) (model.User, bool) {
	u, ok := c.Get(currentUserKey).(model.User)
	return u, ok
}

// userID identifies the caller for request logs.  It returns "guest" when
// no user is authenticated.
func userID(c echo.Context) string {
	if u, ok := CurrentUser(c); ok && u.ID != "" {
		return u.ID
	}
	return "guest"
}
