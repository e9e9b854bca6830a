package auth

import "context"

// Store describes persistence operations required by the auth subsystem.
// Implementations are bound to one session so every read in a request
// sees the same transaction.
type Store interface {
	Users() UserStore
	Rules() RuleStore
}

// UserStore reads accounts and their role links.
type UserStore interface {
	FindByLogin(ctx context.Context, login string) (*User, error)
	Find(ctx context.Context, id string) (*User, error)
	RoleIDs(ctx context.Context, userID string) ([]string, error)
	RoleNames(ctx context.Context, userID string) ([]string, error)
}

// UserWriter creates accounts and grants roles.
type UserWriter interface {
	Create(ctx context.Context, u *User) error
	GrantRoleByName(ctx context.Context, userID, roleName string) (UserRole, error)
}

// UserPatch changes the listed account fields. Nil fields are kept.
type UserPatch struct {
	Username     *string
	PasswordHash *string
}

// AccountStore changes existing accounts.
type AccountStore interface {
	Find(ctx context.Context, id string) (*User, error)
	Update(ctx context.Context, id string, p UserPatch) (*User, error)
	// Deactivate clears is_active. An unknown id is ErrNotFound.
	Deactivate(ctx context.Context, id string) error
}

// RuleStore reads access rules.
type RuleStore interface {
	// RulesFor returns the rules of the given roles on element. Roles without
	// a rule, and unknown elements, contribute nothing.
	RulesFor(ctx context.Context, roleIDs []string, element BusinessElement) ([]AccessRule, error)
}
