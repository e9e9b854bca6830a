package auth

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a lookup has no row.
var ErrNotFound = errors.New("auth: not found")

// Resolver turns a user id into the effective permissions on one business element.
type Resolver struct{}

// NewResolver returns a resolver. It keeps no state between requests.
func NewResolver() *Resolver { return &Resolver{} }

// Resolve loads the user, its roles and their rules on element, and returns
// the union of every granted flag. A user without roles, or an element
// without rules, resolves to an empty set.
func (r *Resolver) Resolve(ctx context.Context, store Store, userID string, element BusinessElement) (AccessContext, error) {
	ac := AccessContext{UserID: userID, Element: element}

	user, err := store.Users().Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AccessContext{}, ErrBadCredentials
		}
		return AccessContext{}, err
	}
	if !user.IsActive {
		return AccessContext{}, ErrUserInactive
	}

	roleIDs, err := store.Users().RoleIDs(ctx, userID)
	if err != nil {
		return AccessContext{}, fmt.Errorf("load roles: %w", err)
	}
	if len(roleIDs) == 0 {
		return ac, nil
	}
	rules, err := store.Rules().RulesFor(ctx, roleIDs, element)
	if err != nil {
		return AccessContext{}, fmt.Errorf("load access rules: %w", err)
	}
	for _, rule := range rules {
		ac.Permissions = ac.Permissions.Union(rule.Permissions())
	}
	return ac, nil
}
