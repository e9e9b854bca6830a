package httpapi

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"accessgate.org/internal/auth"
	"accessgate.org/internal/store/pg"
)

type loginRequest struct {
	Login    string `json:"login" validate:"omitempty,max=254"`
	Email    string `json:"email" validate:"omitempty,email,max=254"`
	Username string `json:"username" validate:"omitempty,max=64"`
	Password string `json:"password" validate:"required,max=72"`
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Username string `json:"username" validate:"omitempty,min=3,max=64"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type userView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	creds := auth.Credentials{Email: req.Email, Username: req.Username, Password: req.Password}
	if creds.Username == "" && req.Login != "" {
		creds.Username = req.Login
	}
	key := creds.Username
	if key == "" {
		key = creds.Email
	}
	if !a.throttle.Allow(key) {
		w.Header().Set("Retry-After", "60")
		writeError(w, r, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	var pair auth.TokenPair
	err := a.sessions.InTx(r.Context(), pg.ReadCommitted, func(sess *pg.Session) error {
		var err error
		pair, err = a.service.Login(r.Context(), sess, creds)
		return err
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	a.writePair(w, pair)
}

// refresh rotates the pair. The token comes from the JSON body, the
// X-Refresh-Token header or the refresh_token cookie, in that order.
func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	token, err := refreshToken(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	if token == "" {
		fail(w, r, auth.ErrBadCredentials)
		return
	}
	var rot *auth.Rotation
	err = a.sessions.InTx(r.Context(), pg.Serializable, func(sess *pg.Session) error {
		var err error
		rot, err = a.service.PrepareRefresh(r.Context(), sess, token)
		return err
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	// Spend the presented token only after the session committed.
	pair, err := a.service.CompleteRefresh(r.Context(), rot)
	if err != nil {
		fail(w, r, err)
		return
	}
	a.writePair(w, pair)
}

// logout revokes whatever tokens the caller presents and clears the cookies.
// It succeeds even when no token, or only invalid ones, are presented.
func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	refresh, err := refreshToken(r)
	if err != nil {
		refresh = ""
	}
	a.cookies.clear(w)
	if err := a.service.Logout(r.Context(), accessToken(r), refresh); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) register(r *http.Request, sess *pg.Session) (int, any, error) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		return 0, nil, err
	}
	user, err := a.service.Register(r.Context(), sess.Accounts(), auth.Registration{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, newUserView(user), nil
}

func (a *API) writePair(w http.ResponseWriter, pair auth.TokenPair) {
	accessTTL, refreshTTL := a.codec.TTLs()
	a.cookies.setPair(w, pair, accessTTL, refreshTTL)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "bearer",
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	})
}

// refreshToken accepts an empty body, so cookie-only clients can post nothing.
func refreshToken(r *http.Request) (string, error) {
	if r.Body != nil {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return "", badInput("unreadable request body")
		}
		if len(bytes.TrimSpace(raw)) > 0 {
			var req refreshRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				return "", badInput("malformed JSON body")
			}
			if t := strings.TrimSpace(req.RefreshToken); t != "" {
				return t, nil
			}
		}
	}
	if t := strings.TrimSpace(r.Header.Get(refreshHeader)); t != "" {
		return t, nil
	}
	return cookieValue(r, refreshCookie), nil
}
