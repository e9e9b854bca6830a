package auth

import "time"

// User is an account that can log in.
type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Role groups access rules.
type Role struct {
	ID          string
	Name        string
	Description string
}

// UserRole links a user to a role. It has its own id so it can be revoked.
type UserRole struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// AccessRule is the seven-flag grant of one role on one business element.
type AccessRule struct {
	RoleID    string          `json:"role_id"`
	Element   BusinessElement `json:"element"`
	Read      bool            `json:"read"`
	ReadAll   bool            `json:"read_all"`
	Create    bool            `json:"create"`
	Update    bool            `json:"update"`
	UpdateAll bool            `json:"update_all"`
	Delete    bool            `json:"delete"`
	DeleteAll bool            `json:"delete_all"`
}

// Permissions converts the rule columns into a set.
func (r AccessRule) Permissions() PermissionSet {
	var s PermissionSet
	flags := []struct {
		on   bool
		perm Permission
	}{
		{r.Read, PermRead},
		{r.ReadAll, PermReadAll},
		{r.Create, PermCreate},
		{r.Update, PermUpdate},
		{r.UpdateAll, PermUpdateAll},
		{r.Delete, PermDelete},
		{r.DeleteAll, PermDeleteAll},
	}
	for _, f := range flags {
		if f.on {
			s = s.With(f.perm)
		}
	}
	return s
}

// AccessContext is the caller identity plus its effective permissions on one element.
type AccessContext struct {
	UserID      string
	Element     BusinessElement
	Permissions PermissionSet
}

// Can reports whether the context holds the permission.
func (ac AccessContext) Can(p Permission) bool { return ac.Permissions.Has(p) }
