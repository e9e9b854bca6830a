package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"accessgate.org/internal/auth"
	"accessgate.org/internal/obs"
	"accessgate.org/internal/store/pg"
	"accessgate.org/internal/validation"
)

var (
	errMissingBody  = errors.New("request body is required")
	errTrailingData = errors.New("unexpected data after JSON body")
)

// statusFor maps domain errors to HTTP status codes and the public message.
// Every 401 reads the same so callers cannot tell which check failed.
func statusFor(err error) (int, string) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest, strings.TrimPrefix(err.Error(), auth.ErrInvalidInput.Error()+": ")
	case errors.Is(err, auth.ErrBadCredentials),
		errors.Is(err, auth.ErrBlacklisted),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrHashVerification):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, auth.ErrUserInactive), errors.Is(err, auth.ErrPermissionDenied):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, pg.ErrSerializationFailure):
		return http.StatusConflict, "conflict, retry"
	case errors.Is(err, pg.ErrIntegrityViolation):
		return http.StatusConflict, "conflict"
	case errors.Is(err, pg.ErrDatabaseUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "service unavailable"
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound, "not found"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// fail logs the precise error and writes the uniform public body.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := statusFor(err)
	ev := obs.Ctx(r.Context()).Warn()
	// A client that went away is not a server fault.
	if code >= http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		ev = obs.Ctx(r.Context()).Error()
	}
	ev.Err(err).Int("status", code).Str("path", r.URL.Path).Msg("request failed")
	writeError(w, r, code, msg)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := obs.RequestID(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	if v == nil {
		w.WriteHeader(code)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "not found")
}

// decodeJSON reads exactly one JSON value, rejects unknown fields and runs
// the validate tags of dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badInput(errMissingBody.Error())
		}
		return badInput("malformed JSON body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return badInput(errTrailingData.Error())
	}
	return validation.Struct(dst)
}

func badInput(msg string) error {
	return fmt.Errorf("%w: %s", auth.ErrInvalidInput, msg)
}
