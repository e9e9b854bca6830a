package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"accessgate.org/internal/auth"
	"accessgate.org/internal/store/pg"
)

type permissionsView struct {
	Element     auth.BusinessElement `json:"element"`
	Permissions []string             `json:"permissions"`
}

// permissions reports the caller's effective flags on one business element.
func (a *API) permissions(w http.ResponseWriter, r *http.Request) {
	element, ok := auth.ParseBusinessElement(chi.URLParam(r, "element"))
	if !ok {
		notFound(w, r)
		return
	}
	a.private(element, pg.ReadCommitted, func(_ *http.Request, _ *pg.Session, ac auth.AccessContext) (int, any, error) {
		return http.StatusOK, permissionsView{Element: ac.Element, Permissions: ac.Permissions.Names()}, nil
	})(w, r)
}
