package httpapi

import (
	"context"
	"net/http"
	"strings"

	"accessgate.org/internal/auth"
	"accessgate.org/internal/obs"
	"accessgate.org/internal/store/pg"
)

type updateMeRequest struct {
	Username        *string `json:"username" validate:"omitempty,min=3,max=64"`
	Password        *string `json:"password" validate:"omitempty,min=8,max=72"`
	CurrentPassword string  `json:"current_password" validate:"required_with=Password,max=72"`
}

// self is the owner lookup of the caller's own account.
func self(ac auth.AccessContext) auth.OwnerLookup {
	return func(context.Context) (string, error) { return ac.UserID, nil }
}

func (a *API) getMe(r *http.Request, sess *pg.Session, ac auth.AccessContext) (int, any, error) {
	if err := auth.AuthorizeRecord(r.Context(), ac, auth.ActionRead, self(ac)); err != nil {
		return 0, nil, err
	}
	user, err := sess.Accounts().Find(r.Context(), ac.UserID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, newUserView(user), nil
}

func (a *API) updateMe(r *http.Request, sess *pg.Session, ac auth.AccessContext) (int, any, error) {
	if err := auth.AuthorizeRecord(r.Context(), ac, auth.ActionUpdate, self(ac)); err != nil {
		return 0, nil, err
	}
	var req updateMeRequest
	if err := decodeJSON(r, &req); err != nil {
		return 0, nil, err
	}
	user, err := a.service.UpdateProfile(r.Context(), sess.Accounts(), ac.UserID, auth.ProfileChange{
		Username:        req.Username,
		Password:        req.Password,
		CurrentPassword: req.CurrentPassword,
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, newUserView(user), nil
}

// deactivateMe soft-deletes the caller. The tokens presented with the request
// are revoked and the cookies cleared once the deactivation has committed.
func (a *API) deactivateMe(w http.ResponseWriter, r *http.Request) {
	access := accessToken(r)
	refresh := strings.TrimSpace(r.Header.Get(refreshHeader))
	if refresh == "" {
		refresh = cookieValue(r, refreshCookie)
	}
	a.private(auth.ElementUser, pg.RepeatableRead, func(r *http.Request, sess *pg.Session, ac auth.AccessContext) (int, any, error) {
		if err := auth.AuthorizeRecord(r.Context(), ac, auth.ActionDelete, self(ac)); err != nil {
			return 0, nil, err
		}
		if err := a.service.Deactivate(r.Context(), sess.Accounts(), ac.UserID); err != nil {
			return 0, nil, err
		}
		sess.AfterCommit(func() {
			a.cookies.clear(w)
			ctx := context.WithoutCancel(r.Context())
			if err := a.service.Logout(ctx, access, refresh); err != nil {
				obs.Ctx(ctx).Warn().Err(err).Msg("revoking tokens of deactivated user failed")
			}
		})
		return http.StatusNoContent, nil, nil
	})(w, r)
}

func newUserView(u *auth.User) userView {
	return userView{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
	}
}
