package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"accessgate.org/internal/auth"
)

// UserRepo reads and writes accounts.
type UserRepo struct {
	q querier
}

var (
	_ auth.UserStore    = (*UserRepo)(nil)
	_ auth.UserWriter   = (*UserRepo)(nil)
	_ auth.AccountStore = (*UserRepo)(nil)
)

const userColumns = `id, email, coalesce(username, ''), password_hash, is_active, created_at, updated_at`

func scanUser(row scanner) (*auth.User, error) {
	var u auth.User
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, Classify(err)
	}
	return &u, nil
}

// FindByLogin matches a username exactly or an email case-insensitively.
// A username match wins when both exist.
func (r *UserRepo) FindByLogin(ctx context.Context, login string) (*auth.User, error) {
	return scanUser(r.q.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where username = $1 or lower(email) = lower($1)
		order by (username = $1) desc nulls last
		limit 1
	`, login))
}

func (r *UserRepo) Find(ctx context.Context, id string) (*auth.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return scanUser(r.q.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
}

func (r *UserRepo) RoleIDs(ctx context.Context, userID string) ([]string, error) {
	return r.strings(ctx, `select role_id from user_roles where user_id = $1 order by role_id`, userID)
}

func (r *UserRepo) RoleNames(ctx context.Context, userID string) ([]string, error) {
	return r.strings(ctx, `
		select r.name
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by r.name
	`, userID)
}

func (r *UserRepo) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, Classify(err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify(err)
	}
	return out, nil
}

// Create inserts u and fills its id and timestamps. A taken email or
// username is ErrIntegrityViolation.
func (r *UserRepo) Create(ctx context.Context, u *auth.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	row := r.q.QueryRowContext(ctx, `
		insert into users (id, email, username, password_hash, is_active)
		values ($1, $2, $3, $4, $5)
		returning created_at, updated_at
	`, u.ID, u.Email, nullIfEmpty(u.Username), u.PasswordHash, u.IsActive)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		return Classify(err)
	}
	return nil
}

// GrantRoleByName links userID to the named role. An unknown role is ErrNotFound.
func (r *UserRepo) GrantRoleByName(ctx context.Context, userID, roleName string) (auth.UserRole, error) {
	var ur auth.UserRole
	row := r.q.QueryRowContext(ctx, `
		insert into user_roles (id, user_id, role_id)
		select $1, $2, id from roles where name = $3
		returning id, user_id, role_id, created_at
	`, uuid.NewString(), userID, roleName)
	if err := row.Scan(&ur.ID, &ur.UserID, &ur.RoleID, &ur.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.UserRole{}, ErrNotFound
		}
		return auth.UserRole{}, Classify(err)
	}
	return ur, nil
}

// Update applies p and returns the stored row. A taken username is
// ErrIntegrityViolation.
func (r *UserRepo) Update(ctx context.Context, id string, p auth.UserPatch) (*auth.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return scanUser(r.q.QueryRowContext(ctx, `
		update users
		set username = coalesce($2, username),
		    password_hash = coalesce($3, password_hash),
		    updated_at = now()
		where id = $1
		returning `+userColumns, id, p.Username, p.PasswordHash))
}

// Deactivate clears is_active and keeps the row.
func (r *UserRepo) Deactivate(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	res, err := r.q.ExecContext(ctx, `update users set is_active = false, updated_at = now() where id = $1`, id)
	if err != nil {
		return Classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Classify(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
