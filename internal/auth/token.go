package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"accessgate.org/internal/obs"
)

const (
	defaultAccessTTL  = 30 * time.Minute
	defaultRefreshTTL = 24 * time.Hour

	refreshType = "refresh"

	// MinSecretLength is the shortest HMAC secret the codec accepts.
	MinSecretLength = 32
)

// AccessClaims is the payload of a short-lived access token.
type AccessClaims struct {
	Subject   string
	Roles     []string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RefreshClaims is the payload of a long-lived refresh token.
type RefreshClaims struct {
	Subject   string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type accessJWT struct {
	Roles []string `json:"role"`
	Type  string   `json:"type,omitempty"`
	jwt.RegisteredClaims
}

type refreshJWT struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// Codec signs and verifies access and refresh tokens with one HMAC secret.
type Codec struct {
	secret     []byte
	method     *jwt.SigningMethodHMAC
	registry   Registry
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// CodecOption configures Codec.
type CodecOption func(*Codec) error

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) error {
		if ttl > 0 {
			c.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) error {
		if ttl > 0 {
			c.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) CodecOption {
	return func(c *Codec) error {
		if fn != nil {
			c.now = fn
		}
		return nil
	}
}

// WithSigningMethod selects HS256, HS384 or HS512.
func WithSigningMethod(alg string) CodecOption {
	return func(c *Codec) error {
		switch strings.ToUpper(strings.TrimSpace(alg)) {
		case "", "HS256":
			c.method = jwt.SigningMethodHS256
		case "HS384":
			c.method = jwt.SigningMethodHS384
		case "HS512":
			c.method = jwt.SigningMethodHS512
		default:
			return fmt.Errorf("%w: unsupported signing method %q", ErrInvalidInput, alg)
		}
		return nil
	}
}

// NewCodec constructs a codec. Every decode consults registry before trusting claims.
func NewCodec(secret []byte, registry Registry, opts ...CodecOption) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: secret must be at least %d bytes", ErrInvalidInput, MinSecretLength)
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: revocation registry is required", ErrInvalidInput)
	}
	c := &Codec{
		secret:     secret,
		method:     jwt.SigningMethodHS256,
		registry:   registry,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// TTLs returns the configured access and refresh lifetimes.
func (c *Codec) TTLs() (access, refresh time.Duration) {
	return c.accessTTL, c.refreshTTL
}

// Registry returns the revocation registry the codec consults.
func (c *Codec) Registry() Registry { return c.registry }

// IssueAccess signs an access token with the default lifetime.
func (c *Codec) IssueAccess(subject string, roles []string) (string, AccessClaims, error) {
	return c.EncodeAccess(AccessClaims{Subject: subject, Roles: roles}, c.accessTTL)
}

// IssueRefresh signs a refresh token with the default lifetime.
func (c *Codec) IssueRefresh(subject string) (string, RefreshClaims, error) {
	return c.EncodeRefresh(RefreshClaims{Subject: subject}, c.refreshTTL)
}

// EncodeAccess stamps iat and exp on claims and signs them. A negative ttl
// produces a token that is already expired.
func (c *Codec) EncodeAccess(claims AccessClaims, ttl time.Duration) (string, AccessClaims, error) {
	if strings.TrimSpace(claims.Subject) == "" {
		return "", AccessClaims{}, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	now := c.now().UTC()
	claims.IssuedAt = now.Truncate(time.Second)
	claims.ExpiresAt = now.Add(ttl).Truncate(time.Second)
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
	claims.Roles = dedupeRoles(claims.Roles)
	payload := accessJWT{
		Roles: claims.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject,
			ID:        claims.ID,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(c.method, payload).SignedString(c.secret)
	if err != nil {
		return "", AccessClaims{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// EncodeRefresh stamps iat and exp on claims and signs them with the refresh discriminator.
func (c *Codec) EncodeRefresh(claims RefreshClaims, ttl time.Duration) (string, RefreshClaims, error) {
	if strings.TrimSpace(claims.Subject) == "" {
		return "", RefreshClaims{}, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	now := c.now().UTC()
	claims.IssuedAt = now.Truncate(time.Second)
	claims.ExpiresAt = now.Add(ttl).Truncate(time.Second)
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
	payload := refreshJWT{
		Type: refreshType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject,
			ID:        claims.ID,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(c.method, payload).SignedString(c.secret)
	if err != nil {
		return "", RefreshClaims{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// DecodeAccess verifies an access token. A refresh token is rejected with ErrInvalidToken.
func (c *Codec) DecodeAccess(ctx context.Context, token string) (AccessClaims, error) {
	var payload accessJWT
	if err := c.decode(ctx, "access", token, &payload); err != nil {
		return AccessClaims{}, err
	}
	if payload.Type != "" {
		return AccessClaims{}, c.reject(ctx, "access", "discriminator", ErrInvalidToken)
	}
	if err := validSubject(payload.Subject); err != nil {
		return AccessClaims{}, c.reject(ctx, "access", "subject", err)
	}
	return AccessClaims{
		Subject:   payload.Subject,
		Roles:     dedupeRoles(payload.Roles),
		ID:        payload.ID,
		IssuedAt:  payload.IssuedAt.Time.UTC(),
		ExpiresAt: payload.ExpiresAt.Time.UTC(),
	}, nil
}

// DecodeRefresh verifies a refresh token. An access token is rejected with ErrInvalidToken.
func (c *Codec) DecodeRefresh(ctx context.Context, token string) (RefreshClaims, error) {
	var payload refreshJWT
	if err := c.decode(ctx, "refresh", token, &payload); err != nil {
		return RefreshClaims{}, err
	}
	if payload.Type != refreshType {
		return RefreshClaims{}, c.reject(ctx, "refresh", "discriminator", ErrInvalidToken)
	}
	if err := validSubject(payload.Subject); err != nil {
		return RefreshClaims{}, c.reject(ctx, "refresh", "subject", err)
	}
	return RefreshClaims{
		Subject:   payload.Subject,
		ID:        payload.ID,
		IssuedAt:  payload.IssuedAt.Time.UTC(),
		ExpiresAt: payload.ExpiresAt.Time.UTC(),
	}, nil
}

func (c *Codec) decode(ctx context.Context, kind, token string, claims jwt.Claims) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return c.reject(ctx, kind, "missing", ErrBadCredentials)
	}
	banned, err := c.registry.IsBanned(ctx, token)
	if err != nil {
		return fmt.Errorf("auth: revocation lookup: %w", err)
	}
	if banned {
		return c.reject(ctx, kind, "revoked", ErrBlacklisted)
	}
	_, err = jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return c.reject(ctx, kind, "expired", ErrTokenExpired)
	default:
		obs.Ctx(ctx).Debug().Err(err).Str("kind", kind).Msg("token parse failed")
		return c.reject(ctx, kind, "malformed", ErrInvalidToken)
	}
}

func (c *Codec) reject(ctx context.Context, kind, reason string, err error) error {
	tokenDecodeFailures.WithLabelValues(kind, reason).Inc()
	obs.Ctx(ctx).Info().Str("kind", kind).Str("reason", reason).Msg("token rejected")
	return err
}

func validSubject(sub string) error {
	if _, err := uuid.Parse(sub); err != nil {
		return ErrInvalidToken
	}
	return nil
}

func dedupeRoles(roles []string) []string {
	if len(roles) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(roles))
	normalized := make([]string, 0, len(roles))
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}
