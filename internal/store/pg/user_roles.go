package pg

import (
	"context"

	"github.com/google/uuid"

	"accessgate.org/internal/auth"
)

var userRoleTable = Table[auth.UserRole]{
	Name:    "user_roles",
	Columns: []string{"id", "user_id", "role_id", "created_at"},
	Owner:   "user_id",
	Scan: func(row scanner, ur *auth.UserRole) error {
		return row.Scan(&ur.ID, &ur.UserID, &ur.RoleID, &ur.CreatedAt)
	},
}

// UserRoleRepo manages grants. Grants are owned by the user they apply to.
type UserRoleRepo struct {
	Repository[auth.UserRole]
}

func newUserRoleRepo(q querier) *UserRoleRepo {
	return &UserRoleRepo{Repository: newRepository(q, userRoleTable)}
}

// Grant links userID to roleID. A duplicate grant or unknown id is
// ErrIntegrityViolation.
func (r *UserRoleRepo) Grant(ctx context.Context, userID, roleID string) (auth.UserRole, error) {
	ur := auth.UserRole{ID: uuid.NewString(), UserID: userID, RoleID: roleID}
	row := r.q.QueryRowContext(ctx, `
		insert into user_roles (id, user_id, role_id)
		values ($1, $2, $3)
		returning created_at
	`, ur.ID, ur.UserID, ur.RoleID)
	if err := row.Scan(&ur.CreatedAt); err != nil {
		return auth.UserRole{}, Classify(err)
	}
	return ur, nil
}
