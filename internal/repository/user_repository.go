package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/iliyamo/star-wheel/internal/model"
)

const userColumns = "id,login,telegram_id,first_name,last_name,photo_url,password_hash,disabled"

// UserRepo persists users in the 'users' table.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// Create inserts u and returns the stored record.  An empty ID is replaced
// by a fresh UUID; a taken login or Telegram id yields ErrDuplicate.
func (r *UserRepo) Create(ctx context.Context, u model.User) (model.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Login != nil {
		login := strings.TrimSpace(*u.Login)
		u.Login = model.StrPtr(login)
	}
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO users ("+userColumns+") VALUES (?,?,?,?,?,?,?,?)",
		u.ID, nullString(u.Login), nullInt64(u.TelegramID), nullString(u.FirstName),
		nullString(u.LastName), nullString(u.PhotoURL), nullString(u.PasswordHash), u.Disabled)
	if err != nil {
		if isDuplicate(err) {
			return model.User{}, ErrDuplicate
		}
		return model.User{}, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

// FindOrCreateByTelegramID returns the user linked to u.TelegramID, inserting
// u when no such user exists.  Two concurrent first logins for the same
// Telegram account converge on one row: the loser of the insert race reads
// back the winner's record.  When only the login collides with some other
// account, u is provisioned without a login.  created reports whether this
// call inserted the row.
func (r *UserRepo) FindOrCreateByTelegramID(ctx context.Context, u model.User) (user model.User, created bool, err error) {
	if u.TelegramID == nil {
		return model.User{}, false, errors.New("telegram id required")
	}
	user, err = r.GetByTelegramID(ctx, *u.TelegramID)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return model.User{}, false, err
	}

	user, err = r.Create(ctx, u)
	if err == nil {
		return user, true, nil
	}
	if !errors.Is(err, ErrDuplicate) {
		return model.User{}, false, err
	}

	user, err = r.GetByTelegramID(ctx, *u.TelegramID)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrNotFound) || u.Login == nil {
		return model.User{}, false, err
	}

	// the Telegram username is some other account's login
	u.Login = nil
	user, err = r.Create(ctx, u)
	if errors.Is(err, ErrDuplicate) {
		user, err = r.GetByTelegramID(ctx, *u.TelegramID)
		return user, false, err
	}
	if err != nil {
		return model.User{}, false, err
	}
	return user, true, nil
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (model.User, error) {
	return r.getOne(ctx, "id=?", id)
}

// GetByLogin fetches a user by login.
func (r *UserRepo) GetByLogin(ctx context.Context, login string) (model.User, error) {
	return r.getOne(ctx, "login=?", strings.TrimSpace(login))
}

// GetByTelegramID fetches a user by Telegram id.
func (r *UserRepo) GetByTelegramID(ctx context.Context, telegramID int64) (model.User, error) {
	return r.getOne(ctx, "telegram_id=?", telegramID)
}

// List returns at most limit users ordered by id, skipping the first skip.
func (r *UserRepo) List(ctx context.Context, skip, limit int) ([]model.User, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY id LIMIT ? OFFSET ?", limit, skip)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return users, nil
}

// Delete removes a user by id.
func (r *UserRepo) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM users WHERE id=?", id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDisabled flips the disabled flag of a user.
func (r *UserRepo) SetDisabled(ctx context.Context, id string, disabled bool) error {
	res, err := r.DB.ExecContext(ctx, "UPDATE users SET disabled=? WHERE id=?", disabled, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		// MySQL counts changed rows only; an already disabled user is not an error.
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *UserRepo) getOne(ctx context.Context, where string, arg any) (model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE "+where+" LIMIT 1", arg)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (model.User, error) {
	var (
		u                                  model.User
		login, first, last, photo, pwdHash sql.NullString
		telegramID                         sql.NullInt64
	)
	if err := s.Scan(&u.ID, &login, &telegramID, &first, &last, &photo, &pwdHash, &u.Disabled); err != nil {
		return model.User{}, err
	}
	u.Login = fromNullString(login)
	u.FirstName = fromNullString(first)
	u.LastName = fromNullString(last)
	u.PhotoURL = fromNullString(photo)
	u.PasswordHash = fromNullString(pwdHash)
	if telegramID.Valid {
		id := telegramID.Int64
		u.TelegramID = &id
	}
	return u, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
