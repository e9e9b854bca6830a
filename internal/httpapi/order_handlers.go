package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"accessgate.org/internal/auth"
	"accessgate.org/internal/store/pg"
)

type createOrderRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=10000"`
	IsPaid    bool   `json:"is_paid"`
}

type updateOrderRequest struct {
	Quantity *int  `json:"quantity" validate:"omitempty,min=1,max=10000"`
	IsPaid   *bool `json:"is_paid"`
}

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func (a *API) listOrders(r *http.Request, sess *pg.Session, ac auth.AccessContext) (int, any, error) {
	filter, err := listFilter(r)
	if err != nil {
		return 0, nil, err
	}
	owner, err := auth.ScopeList(r.Context(), ac, filter.OwnerID)
	if err != nil {
		return 0, nil, err
	}
	filter.OwnerID = owner
	orders, err := sess.Orders().List(r.Context(), filter)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, listResponse[pg.Order]{Items: orders, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func (a *API) createOrder(r *http.Request, sess *pg.Session, ac auth.AccessContext) (int, any, error) {
	owner, err := auth.AuthorizeCreate(r.Context(), ac)
	if err != nil {
		return 0, nil, err
	}
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		return 0, nil, err
	}
	order := pg.Order{UserID: owner, ProductID: req.ProductID, Quantity: req.Quantity, IsPaid: req.IsPaid}
	if err := sess.Orders().Create(r.Context(), &order); err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, order, nil
}

func (a *API) getOrder(r *http.Request, sess *pg.Session, ac auth.AccessContext) (int, any, error) {
	id, err := resourceID(r)
	if err != nil {
		return 0, nil, err
	}
	if err := auth.AuthorizeRecord(r.Context(), ac, auth.ActionRead, ownerOf(sess.Orders().OwnerOf, id)); err != nil {
		return 0, nil, err
	}
	order, err := sess.Orders().Get(r.Context(), id)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, order, nil
}

func (a *API) updateOrder(r *http.Request, sess *pg.Session, ac auth.AccessContext) (int, any, error) {
	id, err := resourceID(r)
	if err != nil {
		return 0, nil, err
	}
	if err := auth.AuthorizeRecord(r.Context(), ac, auth.ActionUpdate, ownerOf(sess.Orders().OwnerOf, id)); err != nil {
		return 0, nil, err
	}
	var req updateOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		return 0, nil, err
	}
	if req.Quantity == nil && req.IsPaid == nil {
		return 0, nil, badInput("nothing to update")
	}
	order, err := sess.Orders().Update(r.Context(), id, pg.OrderPatch{Quantity: req.Quantity, IsPaid: req.IsPaid})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, order, nil
}

func (a *API) deleteOrder(r *http.Request, sess *pg.Session, ac auth.AccessContext) (int, any, error) {
	id, err := resourceID(r)
	if err != nil {
		return 0, nil, err
	}
	if err := auth.AuthorizeRecord(r.Context(), ac, auth.ActionDelete, ownerOf(sess.Orders().OwnerOf, id)); err != nil {
		return 0, nil, err
	}
	if err := sess.Orders().Delete(r.Context(), id); err != nil {
		return 0, nil, err
	}
	return http.StatusNoContent, nil, nil
}

// ownerOf adapts a repository owner query to the guard's lookup.
func ownerOf(query func(context.Context, string) (string, error), id string) auth.OwnerLookup {
	return func(ctx context.Context) (string, error) {
		return query(ctx, id)
	}
}

// resourceID returns the {id} path parameter. Ids that are not UUIDs cannot
// exist, so they are reported as not found.
func resourceID(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		return "", pg.ErrNotFound
	}
	return id, nil
}

// listFilter reads user_id, limit and offset from the query string. The
// owner id is normalized so the guard compares canonical UUIDs.
func listFilter(r *http.Request) (pg.ListFilter, error) {
	q := r.URL.Query()
	limit, offset, err := page(q)
	if err != nil {
		return pg.ListFilter{}, err
	}
	filter := pg.ListFilter{Limit: limit, Offset: offset}
	if raw := strings.TrimSpace(q.Get("user_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return pg.ListFilter{}, badInput("user_id must be a UUID")
		}
		filter.OwnerID = id.String()
	}
	return filter, nil
}

func page(q url.Values) (limit, offset int, err error) {
	if limit, err = parsePositiveInt("limit", q.Get("limit"), 50, 1, 500); err != nil {
		return 0, 0, err
	}
	if offset, err = parsePositiveInt("offset", q.Get("offset"), 0, 0, 1_000_000); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func parsePositiveInt(name, raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badInput(name + " must be an integer")
	}
	if val < min || val > max {
		return 0, badInput(name + " must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return val, nil
}

