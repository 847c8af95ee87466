package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/star-wheel/internal/handler"
	"github.com/iliyamo/star-wheel/internal/logging"
	"github.com/iliyamo/star-wheel/internal/middleware"
	"github.com/iliyamo/star-wheel/internal/service"
)

// New returns an Echo instance with the global middleware and every route
// registered.
func New(log logging.Logger, auth *service.AuthService, users *service.UserService) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.ErrorHandler(log)

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log))

	RegisterRoutes(e)
	RegisterAuth(e, handler.NewAuthHandler(auth, log))
	RegisterUsers(e, handler.NewUserHandler(users, log), auth)
	return e
}

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the login endpoints.  Both hand out bearer tokens
// and need no existing session.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler) {
	e.POST("/token", a.Token)
	e.POST("/telegram_login", a.TelegramLogin)
}

// RegisterUsers registers the user endpoints.  /users/me needs the "me"
// scope; account management needs "users".
func RegisterUsers(e *echo.Echo, u *handler.UserHandler, resolver middleware.UserResolver) {
	e.GET("/users/me", u.Me, middleware.JWTAuth(resolver, service.ScopeMe))

	g := e.Group("/users", middleware.JWTAuth(resolver, service.ScopeUsers))
	g.GET("", u.List)
	g.POST("", u.Create)
	g.GET("/:id", u.Get)
	g.DELETE("/:id", u.Delete)
	g.POST("/:id/disable", u.Disable)
}
