package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/star-wheel/internal/logging"
	"github.com/iliyamo/star-wheel/internal/middleware"
	"github.com/iliyamo/star-wheel/internal/service"
)

// UserHandler serves the /users endpoints.
type UserHandler struct {
	Users *service.UserService
	Log   logging.Logger
}

func NewUserHandler(u *service.UserService, log logging.Logger) *UserHandler {
	return &UserHandler{Users: u, Log: log}
}

type createUserReq struct {
	Login     string `json:"login"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	PhotoURL  string `json:"photo_url"`
}

// Me returns the authenticated user.
func (h *UserHandler) Me(c echo.Context) error {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"detail": "Could not validate credentials"})
	}
	return c.JSON(http.StatusOK, u)
}

// List: GET /users?skip=0&limit=100
func (h *UserHandler) List(c echo.Context) error {
	skip, err := queryInt(c, "skip", 0)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"detail": "invalid skip"})
	}
	limit, err := queryInt(c, "limit", service.DefaultListLimit)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"detail": "invalid limit"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	users, err := h.Users.List(ctx, skip, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, users)
}

// Get: GET /users/:id
func (h *UserHandler) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.Get(ctx, c.Param("id"))
	if err != nil {
		return userError(c, err)
	}
	return c.JSON(http.StatusOK, u)
}

// Create: POST /users, answers 201 with the new user.
func (h *UserHandler) Create(c echo.Context) error {
	var req createUserReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"detail": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.Register(ctx, service.RegisterInput{
		Login:     req.Login,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		PhotoURL:  req.PhotoURL,
	})
	if err != nil {
		if errors.Is(err, service.ErrLoginTaken) || errors.Is(err, service.ErrValidation) {
			h.Log.Debug(ctx, "user create rejected", "login", req.Login, "err", err)
		}
		return userError(c, err)
	}
	return c.JSON(http.StatusCreated, u)
}

// Delete: DELETE /users/:id
func (h *UserHandler) Delete(c echo.Context) error {
	id := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Users.Delete(ctx, id); err != nil {
		return userError(c, err)
	}
	if actor, ok := middleware.CurrentUser(c); ok {
		h.Log.Info(ctx, "user deleted via api", "user_id", id, "actor_id", actor.ID)
	}
	return c.JSON(http.StatusOK, echo.Map{"id": id, "deleted": true})
}

// Disable: POST /users/:id/disable
func (h *UserHandler) Disable(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.Disable(ctx, c.Param("id"))
	if err != nil {
		return userError(c, err)
	}
	return c.JSON(http.StatusOK, u)
}

// userError maps user service errors to responses.  Anything unexpected is
// left to the global error handler.
func userError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"detail": "User not found"})
	case errors.Is(err, service.ErrLoginTaken):
		return c.JSON(http.StatusConflict, echo.Map{"detail": "Login already registered"})
	case errors.Is(err, service.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"detail": err.Error()})
	default:
		return err
	}
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}
