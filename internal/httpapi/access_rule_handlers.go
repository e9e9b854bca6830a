package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"accessgate.org/internal/audit"
	"accessgate.org/internal/auth"
	"accessgate.org/internal/store/pg"
)

type patchRuleRequest struct {
	Read      *bool `json:"read"`
	ReadAll   *bool `json:"read_all"`
	Create    *bool `json:"create"`
	Update    *bool `json:"update"`
	UpdateAll *bool `json:"update_all"`
	Delete    *bool `json:"delete"`
	DeleteAll *bool `json:"delete_all"`
}

func (req patchRuleRequest) patch() pg.RulePatch {
	p := pg.RulePatch{}
	for perm, v := range map[auth.Permission]*bool{
		auth.PermRead:      req.Read,
		auth.PermReadAll:   req.ReadAll,
		auth.PermCreate:    req.Create,
		auth.PermUpdate:    req.Update,
		auth.PermUpdateAll: req.UpdateAll,
		auth.PermDelete:    req.Delete,
		auth.PermDeleteAll: req.DeleteAll,
	} {
		if v != nil {
			p[perm] = *v
		}
	}
	return p
}

// The access matrix belongs to nobody, so only the _all flags open it.
func unowned(context.Context) (string, error) { return "", nil }

func (a *API) listAccessRules(r *http.Request, sess *pg.Session, ac auth.AccessContext) (int, any, error) {
	if err := auth.AuthorizeRecord(r.Context(), ac, auth.ActionRead, unowned); err != nil {
		return 0, nil, err
	}
	q := r.URL.Query()
	limit, offset, err := page(q)
	if err != nil {
		return 0, nil, err
	}
	filter := pg.RuleFilter{Limit: limit, Offset: offset}
	if raw := strings.TrimSpace(q.Get("role_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return 0, nil, badInput("role_id must be a UUID")
		}
		filter.RoleID = id.String()
	}
	if raw := q.Get("element"); raw != "" {
		element, ok := auth.ParseBusinessElement(raw)
		if !ok {
			return 0, nil, badInput("unknown element")
		}
		filter.Element = element
	}
	rules, err := sess.AccessRules().List(r.Context(), filter)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, listResponse[auth.AccessRule]{Items: rules, Limit: limit, Offset: offset}, nil
}

func (a *API) patchAccessRule(r *http.Request, sess *pg.Session, ac auth.AccessContext) (int, any, error) {
	roleID, err := uuid.Parse(chi.URLParam(r, "roleID"))
	if err != nil {
		return 0, nil, pg.ErrNotFound
	}
	element, ok := auth.ParseBusinessElement(chi.URLParam(r, "element"))
	if !ok {
		return 0, nil, pg.ErrNotFound
	}
	if err := auth.AuthorizeRecord(r.Context(), ac, auth.ActionUpdate, unowned); err != nil {
		return 0, nil, err
	}
	var req patchRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		return 0, nil, err
	}
	patch := req.patch()
	if len(patch) == 0 {
		return 0, nil, badInput("nothing to update")
	}
	rule, err := sess.AccessRules().Update(r.Context(), roleID.String(), element, patch)
	if err != nil {
		return 0, nil, err
	}
	_ = audit.LogEvent(r.Context(), "rbac.access_rule.updated", map[string]any{
		"role_id":     rule.RoleID,
		"element":     rule.Element.String(),
		"permissions": rule.Permissions().String(),
	})
	return http.StatusOK, rule, nil
}
