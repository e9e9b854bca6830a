package httpapi

import (
	"net/http"

	"accessgate.org/internal/audit"
	"accessgate.org/internal/auth"
	"accessgate.org/internal/store/pg"
)

type grantRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	RoleID string `json:"role_id" validate:"required,uuid"`
}

// Grants are owned by the user they apply to: holders of read see their own
// grants, read_all sees everyone's.
func (a *API) listUserRoles(r *http.Request, sess *pg.Session, ac auth.AccessContext) (int, any, error) {
	filter, err := listFilter(r)
	if err != nil {
		return 0, nil, err
	}
	owner, err := auth.ScopeList(r.Context(), ac, filter.OwnerID)
	if err != nil {
		return 0, nil, err
	}
	filter.OwnerID = owner
	grants, err := sess.UserRoles().List(r.Context(), filter)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, listResponse[auth.UserRole]{Items: grants, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func (a *API) grantUserRole(r *http.Request, sess *pg.Session, ac auth.AccessContext) (int, any, error) {
	if _, err := auth.AuthorizeCreate(r.Context(), ac); err != nil {
		return 0, nil, err
	}
	var req grantRequest
	if err := decodeJSON(r, &req); err != nil {
		return 0, nil, err
	}
	grant, err := sess.UserRoles().Grant(r.Context(), req.UserID, req.RoleID)
	if err != nil {
		return 0, nil, err
	}
	_ = audit.LogEvent(r.Context(), "rbac.user_role.granted", map[string]any{
		"grant_id": grant.ID,
		"user_id":  grant.UserID,
		"role_id":  grant.RoleID,
	})
	return http.StatusCreated, grant, nil
}

func (a *API) revokeUserRole(r *http.Request, sess *pg.Session, ac auth.AccessContext) (int, any, error) {
	id, err := resourceID(r)
	if err != nil {
		return 0, nil, err
	}
	if err := auth.AuthorizeRecord(r.Context(), ac, auth.ActionDelete, ownerOf(sess.UserRoles().OwnerOf, id)); err != nil {
		return 0, nil, err
	}
	if err := sess.UserRoles().Delete(r.Context(), id); err != nil {
		return 0, nil, err
	}
	_ = audit.LogEvent(r.Context(), "rbac.user_role.revoked", map[string]any{"grant_id": id})
	return http.StatusNoContent, nil, nil
}
