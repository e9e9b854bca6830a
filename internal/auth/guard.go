package auth

import (
	"context"

	"accessgate.org/internal/audit"
	"accessgate.org/internal/obs"
)

// OwnerLookup fetches the owner id of the record an operation targets.
type OwnerLookup func(ctx context.Context) (string, error)

// ScopeList decides the owner filter of a list query. The returned owner is
// the filter to apply; an empty string means no owner restriction.
//
// With read_all the requested filter is kept as is. With only read the filter
// is pinned to the caller, and asking for somebody else's records is denied
// rather than silently rewritten.
func ScopeList(ctx context.Context, ac AccessContext, requestedOwner string) (string, error) {
	switch {
	case ac.Can(PermReadAll):
		record(ctx, ac, ActionList, "unfiltered", requestedOwner, nil)
		return requestedOwner, nil
	case ac.Can(PermRead):
		if requestedOwner != "" && requestedOwner != ac.UserID {
			err := deny(ac, ActionList, "owner filter names another user", PermReadAll)
			record(ctx, ac, ActionList, "owner", requestedOwner, err)
			return "", err
		}
		record(ctx, ac, ActionList, "owner", ac.UserID, nil)
		return ac.UserID, nil
	default:
		err := deny(ac, ActionList, "", PermRead, PermReadAll)
		record(ctx, ac, ActionList, "none", requestedOwner, err)
		return "", err
	}
}

// AuthorizeRecord guards a single-record read, update or delete. The _all
// flag passes outright. The own flag fetches the owner through lookup and
// compares it with the caller. Without either flag lookup is never called,
// so the caller learns nothing about records it can never touch.
func AuthorizeRecord(ctx context.Context, ac AccessContext, action Action, lookup OwnerLookup) error {
	own, all := action.flags()
	if own == 0 || action == ActionCreate || action == ActionList {
		err := deny(ac, action, "not a single-record action")
		record(ctx, ac, action, "none", "", err)
		return err
	}
	if ac.Can(all) {
		record(ctx, ac, action, "any", "", nil)
		return nil
	}
	if !ac.Can(own) {
		err := deny(ac, action, "", own, all)
		record(ctx, ac, action, "none", "", err)
		return err
	}
	owner, err := lookup(ctx)
	if err != nil {
		return err
	}
	if owner == "" || owner != ac.UserID {
		reason := "record owned by another user"
		if owner == "" {
			reason = "record has no owner"
		}
		err := deny(ac, action, reason, all)
		record(ctx, ac, action, "owner", owner, err)
		return err
	}
	record(ctx, ac, action, "owner", owner, nil)
	return nil
}

// AuthorizeCreate requires create and returns the owner id the new record
// must carry. Client supplied owners are never trusted.
func AuthorizeCreate(ctx context.Context, ac AccessContext) (string, error) {
	if !ac.Can(PermCreate) {
		err := deny(ac, ActionCreate, "", PermCreate)
		record(ctx, ac, ActionCreate, "none", "", err)
		return "", err
	}
	record(ctx, ac, ActionCreate, "owner", ac.UserID, nil)
	return ac.UserID, nil
}

func record(ctx context.Context, ac AccessContext, action Action, scope, owner string, err error) {
	outcome := "allow"
	if err != nil {
		outcome = "deny"
	}
	authzDecisions.WithLabelValues(ac.Element.String(), string(action), outcome).Inc()

	ev := obs.Ctx(ctx).Info()
	if err != nil {
		ev = obs.Ctx(ctx).Warn().Err(err)
	}
	ev.Str("element", ac.Element.String()).
		Str("action", string(action)).
		Str("scope", scope).
		Str("owner", owner).
		Str("permissions", ac.Permissions.String()).
		Str("outcome", outcome).
		Msg("authorization decision")

	if err != nil {
		_ = audit.LogEvent(ctx, "authz.denied", map[string]any{
			"user_id": ac.UserID,
			"element": ac.Element.String(),
			"action":  string(action),
			"reason":  err.Error(),
		})
	}
}
