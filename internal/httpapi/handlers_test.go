package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"accessgate.org/internal/auth"
	"accessgate.org/internal/obs"
	"accessgate.org/internal/store/pg"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	aliceID    = "6f1c2c39-2a8e-4d3e-9a55-0b6c1c1a0001"
	bobID      = "6f1c2c39-2a8e-4d3e-9a55-0b6c1c1a0002"
	roleID     = "0d0a6a7e-5f3b-4c1a-8c0e-2b1f3a000001"
	orderID    = "9b2e4c1a-7d3f-4e8a-b1c2-000000000042"
	productID  = "3c4d5e6f-1a2b-4c3d-8e9f-000000000007"
)

var userCols = []string{"id", "email", "username", "password_hash", "is_active", "created_at", "updated_at"}

type apiClient struct {
	baseURL string
	client  *http.Client
	mock    sqlmock.Sqlmock
	codec   *auth.Codec
	reg     *auth.MemoryRegistry
	t       *testing.T
}

func newTestAPI(t *testing.T, configure ...func(*Options)) *apiClient {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	reg := auth.NewMemoryRegistry(time.Hour)
	codec, err := auth.NewCodec([]byte(testSecret), reg)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	opts := Options{
		Sessions: pg.New(db),
		Service:  auth.NewService(codec, auth.NewVerifier(2)),
		Version:  "test",
	}
	for _, fn := range configure {
		fn(&opts)
	}
	api := New(opts)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), mock: mock, codec: codec, reg: reg, t: t}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string, cookies ...*http.Cookie) *http.Response {
	c.t.Helper()
	var payload io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		payload = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	c.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (c *apiClient) accessToken(userID string) string {
	c.t.Helper()
	token, _, err := c.codec.IssueAccess(userID, []string{"user"})
	if err != nil {
		c.t.Fatalf("IssueAccess: %v", err)
	}
	return token
}

func (c *apiClient) verify() {
	c.t.Helper()
	if err := c.mock.ExpectationsWereMet(); err != nil {
		c.t.Fatalf("unmet expectations: %v", err)
	}
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, want, raw)
	}
}

func userRows(id, hash string, active bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(userCols).AddRow(id, "alice@example.com", "alice", hash, active, now, now)
}

// expectResolve queues the three reads the resolver makes for userID on
// element, granting perms through a single role.
func expectResolve(mock sqlmock.Sqlmock, userID string, element auth.BusinessElement, perms ...auth.Permission) {
	set := auth.NewPermissionSet(perms...)
	mock.ExpectQuery("from users where id = \\$1").WithArgs(userID).WillReturnRows(userRows(userID, "x", true))
	mock.ExpectQuery("select role_id from user_roles").WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"role_id"}).AddRow(roleID))
	mock.ExpectQuery("from access_rules ar").WithArgs(string(element), roleID).
		WillReturnRows(sqlmock.NewRows([]string{"role_id", "read", "read_all", "create", "update", "update_all", "delete", "delete_all"}).
			AddRow(roleID, set.Has(auth.PermRead), set.Has(auth.PermReadAll), set.Has(auth.PermCreate),
				set.Has(auth.PermUpdate), set.Has(auth.PermUpdateAll), set.Has(auth.PermDelete), set.Has(auth.PermDeleteAll)))
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
}

func TestHealthz(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodGet, "/healthz", nil, nil)
	expectStatus(t, resp, http.StatusOK)

	var body map[string]any
	decodeBody(t, resp, &body)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected body %v", body)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatal("missing request id header")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing security headers")
	}
}

type failingSessions struct{}

func (failingSessions) InTx(context.Context, pg.IsolationLevel, func(*pg.Session) error) error {
	return pg.ErrDatabaseUnavailable
}

func (failingSessions) Ping(context.Context) error { return pg.ErrDatabaseUnavailable }

func TestReadyReportsDatabaseOutage(t *testing.T) {
	c := newTestAPI(t, func(o *Options) { o.Sessions = failingSessions{} })

	resp := c.do(http.MethodGet, "/readyz", nil, nil)
	expectStatus(t, resp, http.StatusServiceUnavailable)

	resp = c.do(http.MethodGet, "/v1/orders", nil, bearerHeader(c.accessToken(aliceID)))
	expectStatus(t, resp, http.StatusServiceUnavailable)
	var body errorBody
	decodeBody(t, resp, &body)
	if body.Error != "service unavailable" {
		t.Fatalf("error = %q", body.Error)
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	c := newTestAPI(t)
	expectStatus(t, c.do(http.MethodGet, "/v1/nope", nil, nil), http.StatusNotFound)
	expectStatus(t, c.do(http.MethodPut, "/v1/auth/login", nil, nil), http.StatusMethodNotAllowed)
}

func TestPermissionsEndpoint(t *testing.T) {
	c := newTestAPI(t)
	c.mock.ExpectBegin()
	expectResolve(c.mock, aliceID, auth.ElementOrder, auth.PermRead, auth.PermCreate, auth.PermDelete)
	c.mock.ExpectCommit()

	resp := c.do(http.MethodGet, "/v1/permissions/order", nil, bearerHeader(c.accessToken(aliceID)))
	expectStatus(t, resp, http.StatusOK)
	var body struct {
		Element     string   `json:"element"`
		Permissions []string `json:"permissions"`
	}
	decodeBody(t, resp, &body)
	if body.Element != "order" || len(body.Permissions) != 3 || body.Permissions[0] != "read" || body.Permissions[2] != "delete" {
		t.Fatalf("unexpected body %+v", body)
	}
	c.verify()

	expectStatus(t, c.do(http.MethodGet, "/v1/permissions/invoice", nil, bearerHeader(c.accessToken(aliceID))), http.StatusNotFound)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		code int
		msg  string
	}{
		{badInput("quantity must be positive"), http.StatusBadRequest, "quantity must be positive"},
		{auth.ErrBadCredentials, http.StatusUnauthorized, "unauthorized"},
		{auth.ErrBlacklisted, http.StatusUnauthorized, "unauthorized"},
		{auth.ErrTokenExpired, http.StatusUnauthorized, "unauthorized"},
		{auth.ErrInvalidToken, http.StatusUnauthorized, "unauthorized"},
		{auth.ErrUserInactive, http.StatusForbidden, "forbidden"},
		{&auth.DenialError{Element: auth.ElementOrder, Action: auth.ActionDelete}, http.StatusForbidden, "forbidden"},
		{pg.ErrSerializationFailure, http.StatusConflict, "conflict, retry"},
		{pg.ErrIntegrityViolation, http.StatusConflict, "conflict"},
		{pg.ErrDatabaseUnavailable, http.StatusServiceUnavailable, "service unavailable"},
		{context.DeadlineExceeded, http.StatusServiceUnavailable, "service unavailable"},
		{context.Canceled, http.StatusServiceUnavailable, "service unavailable"},
		{pg.ErrNotFound, http.StatusNotFound, "not found"},
		{errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}
	for _, tc := range cases {
		code, msg := statusFor(tc.err)
		if code != tc.code || msg != tc.msg {
			t.Fatalf("statusFor(%v) = %d %q, want %d %q", tc.err, code, msg, tc.code, tc.msg)
		}
	}
}

func TestFailLogsCancelledRequestAsWarning(t *testing.T) {
	var buf bytes.Buffer
	obs.InitLogger(obs.LogConfig{Output: &buf})
	t.Cleanup(func() { obs.InitLogger(obs.LogConfig{}) })

	for _, tc := range []struct {
		err   error
		level string
	}{
		{fmt.Errorf("acquire verifier slot: %w", context.Canceled), "warn"},
		{errors.New("boom"), "error"},
	} {
		buf.Reset()
		rec := httptest.NewRecorder()
		fail(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil), tc.err)

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("decode log line %q: %v", buf.String(), err)
		}
		if entry["level"] != tc.level {
			t.Fatalf("fail(%v) logged at %v, want %s", tc.err, entry["level"], tc.level)
		}
	}
}
