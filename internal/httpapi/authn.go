package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"accessgate.org/internal/auth"
	"accessgate.org/internal/obs"
	"accessgate.org/internal/store/pg"
)

const (
	authHeader    = "Authorization"
	bearer        = "Bearer "
	refreshHeader = "X-Refresh-Token"
)

var errMissingToken = errors.New("missing bearer token")

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingToken
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}

// accessToken reads the Authorization header and falls back to the
// access_token cookie only when the header is absent.
func accessToken(r *http.Request) string {
	if h := r.Header.Get(authHeader); strings.TrimSpace(h) != "" {
		token, err := extractBearerToken(h)
		if err != nil {
			return ""
		}
		return token
	}
	return cookieValue(r, accessCookie)
}

// guarded is a protected endpoint body. It runs inside the request session
// and returns the status and payload to write once the session commits.
type guarded func(r *http.Request, sess *pg.Session, ac auth.AccessContext) (int, any, error)

// private authenticates the caller, opens a session at level, resolves the
// caller's permissions on element and runs h. The response is written only
// after a successful commit, so a conflict detected at commit time still
// reaches the client as 409.
func (a *API) private(element auth.BusinessElement, level pg.IsolationLevel, h guarded) http.HandlerFunc {
	return a.protect(element, level, false, h)
}

// retryable is private for idempotent endpoints: the whole session is rerun
// on a serialization failure, up to pg.DefaultRetryPolicy attempts.
func (a *API) retryable(element auth.BusinessElement, level pg.IsolationLevel, h guarded) http.HandlerFunc {
	return a.protect(element, level, true, h)
}

func (a *API) protect(element auth.BusinessElement, level pg.IsolationLevel, retry bool, h guarded) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		token := accessToken(r)
		if token == "" {
			fail(w, r, auth.ErrBadCredentials)
			return
		}
		claims, err := a.codec.DecodeAccess(ctx, token)
		if err != nil {
			fail(w, r, err)
			return
		}
		ctx = obs.WithUserID(ctx, claims.Subject)
		ctx = auth.ContextWithClaims(ctx, claims)
		r = r.WithContext(ctx)

		var body []byte
		if retry && r.Body != nil {
			if body, err = io.ReadAll(r.Body); err != nil {
				fail(w, r, badInput("unreadable request body"))
				return
			}
		}

		var (
			status  int
			payload any
		)
		run := func(ctx context.Context) error {
			if retry {
				r.Body = io.NopCloser(bytes.NewReader(body))
			}
			return a.sessions.InTx(ctx, level, func(sess *pg.Session) error {
				ac, err := a.resolver.Resolve(ctx, sess, claims.Subject, element)
				if err != nil {
					return err
				}
				status, payload, err = h(r.WithContext(auth.ContextWithAccess(ctx, ac)), sess, ac)
				return err
			})
		}
		if retry {
			err = pg.Retry(ctx, pg.DefaultRetryPolicy, run)
		} else {
			err = run(ctx)
		}
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, status, payload)
	}
}

// public runs h in a session without authentication.
func (a *API) public(level pg.IsolationLevel, h func(r *http.Request, sess *pg.Session) (int, any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			status int
			body   any
		)
		err := a.sessions.InTx(r.Context(), level, func(sess *pg.Session) error {
			var err error
			status, body, err = h(r, sess)
			return err
		})
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, status, body)
	}
}
