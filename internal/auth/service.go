package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"accessgate.org/internal/audit"
	"accessgate.org/internal/obs"
)

// DefaultRole is granted to every newly registered user.
const DefaultRole = "user"

// Credentials is a login attempt. Username wins over email when both are set.
type Credentials struct {
	Email    string
	Username string
	Password string
}

func (c Credentials) login() string {
	if u := strings.TrimSpace(c.Username); u != "" {
		return u
	}
	return strings.TrimSpace(strings.ToLower(c.Email))
}

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Service runs login, refresh, logout and registration on top of the codec.
type Service struct {
	codec    *Codec
	verifier *Verifier
}

// NewService wires the session operations.
func NewService(codec *Codec, verifier *Verifier) *Service {
	if verifier == nil {
		verifier = NewVerifier(0)
	}
	return &Service{codec: codec, verifier: verifier}
}

// Codec returns the token codec.
func (s *Service) Codec() *Codec { return s.codec }

// Login checks credentials and issues a fresh pair. Unknown users and wrong
// passwords both surface as ErrBadCredentials; only the log tells them apart.
// The active flag is checked after the password, so only a caller holding the
// right password learns that an account is deactivated. Failed attempts are
// audited but never lock the account.
func (s *Service) Login(ctx context.Context, store Store, creds Credentials) (TokenPair, error) {
	login := creds.login()
	if login == "" || creds.Password == "" {
		return TokenPair{}, s.loginFailed(ctx, login, "missing credentials", ErrBadCredentials)
	}
	user, err := store.Users().FindByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, s.loginFailed(ctx, login, "unknown user", ErrBadCredentials)
		}
		return TokenPair{}, err
	}
	if err := s.verifier.Verify(ctx, user.PasswordHash, creds.Password); err != nil {
		switch {
		case errors.Is(err, ErrHashVerification):
			obs.Ctx(ctx).Error().Err(err).Str("user_id", user.ID).Msg("stored password hash unusable")
			return TokenPair{}, s.loginFailed(ctx, login, "corrupt hash", ErrBadCredentials)
		case errors.Is(err, ErrBadCredentials):
			return TokenPair{}, s.loginFailed(ctx, login, "wrong password", ErrBadCredentials)
		default:
			return TokenPair{}, err
		}
	}
	if !user.IsActive {
		return TokenPair{}, s.loginFailed(ctx, login, "inactive user", ErrUserInactive)
	}
	pair, err := s.mint(ctx, store, user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	_ = audit.LogEvent(ctx, "auth.login.succeeded", map[string]any{"user_id": user.ID})
	return pair, nil
}

// Rotation is a refresh whose new pair is signed but not yet handed out. The
// presented token stays usable until CompleteRefresh spends it, so a transaction
// that fails after Prepare leaves the client able to retry.
type Rotation struct {
	pair   TokenPair
	token  string
	userID string
	jti    string
}

// PrepareRefresh validates a refresh token against the current account state
// and signs the replacement pair. Nothing is revoked yet.
func (s *Service) PrepareRefresh(ctx context.Context, store Store, refreshToken string) (*Rotation, error) {
	claims, err := s.codec.DecodeRefresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	user, err := store.Users().Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	pair, err := s.mint(ctx, store, user.ID)
	if err != nil {
		return nil, err
	}
	return &Rotation{pair: pair, token: refreshToken, userID: user.ID, jti: claims.ID}, nil
}

// CompleteRefresh spends the presented token and releases the new pair. When
// a concurrent rotation spent it first the pair is discarded and the caller
// gets ErrBlacklisted.
func (s *Service) CompleteRefresh(ctx context.Context, rot *Rotation) (TokenPair, error) {
	first, err := s.codec.Registry().Claim(ctx, rot.token)
	if err != nil {
		return TokenPair{}, fmt.Errorf("auth: revoke refresh token: %w", err)
	}
	if !first {
		return TokenPair{}, ErrBlacklisted
	}
	_ = audit.LogEvent(ctx, "auth.refresh.rotated", map[string]any{"user_id": rot.userID, "jti": rot.jti})
	return rot.pair, nil
}

// Refresh rotates a refresh token so it can be used exactly once. Callers
// running inside a transaction should call PrepareRefresh in it and
// CompleteRefresh after it commits.
func (s *Service) Refresh(ctx context.Context, store Store, refreshToken string) (TokenPair, error) {
	rot, err := s.PrepareRefresh(ctx, store, refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	return s.CompleteRefresh(ctx, rot)
}

// Logout bans whichever tokens are present. Tokens that do not verify, are
// already banned or already expired are skipped since they cannot be used anyway.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) error {
	var banned []string
	if accessToken != "" {
		if claims, err := s.codec.DecodeAccess(ctx, accessToken); err == nil {
			if err := s.codec.Registry().Ban(ctx, accessToken); err != nil {
				return fmt.Errorf("auth: revoke access token: %w", err)
			}
			banned = append(banned, "access:"+claims.ID)
		}
	}
	if refreshToken != "" {
		if claims, err := s.codec.DecodeRefresh(ctx, refreshToken); err == nil {
			if err := s.codec.Registry().Ban(ctx, refreshToken); err != nil {
				return fmt.Errorf("auth: revoke refresh token: %w", err)
			}
			banned = append(banned, "refresh:"+claims.ID)
		}
	}
	_ = audit.LogEvent(ctx, "auth.logout", map[string]any{"revoked": banned})
	return nil
}

// Registration is a new account request.
type Registration struct {
	Email    string
	Username string
	Password string
}

// Register creates an active user holding DefaultRole.
func (s *Service) Register(ctx context.Context, users UserWriter, reg Registration) (*User, error) {
	email := strings.TrimSpace(strings.ToLower(reg.Email))
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	hash, err := HashPassword(reg.Password)
	if err != nil {
		return nil, err
	}
	user := &User{
		Email:        email,
		Username:     strings.TrimSpace(reg.Username),
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := users.Create(ctx, user); err != nil {
		return nil, err
	}
	if _, err := users.GrantRoleByName(ctx, user.ID, DefaultRole); err != nil {
		return nil, fmt.Errorf("grant default role: %w", err)
	}
	_ = audit.LogEvent(ctx, "auth.user.registered", map[string]any{"user_id": user.ID})
	return user, nil
}

// ProfileChange is a self-service account update. Nil fields are kept.
// Changing the password requires the current one.
type ProfileChange struct {
	Username        *string
	Password        *string
	CurrentPassword string
}

// UpdateProfile applies ch to the caller's own account.
func (s *Service) UpdateProfile(ctx context.Context, accounts AccountStore, userID string, ch ProfileChange) (*User, error) {
	if ch.Username == nil && ch.Password == nil {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}
	var patch UserPatch
	if ch.Username != nil {
		name := strings.TrimSpace(*ch.Username)
		patch.Username = &name
	}
	if ch.Password != nil {
		user, err := accounts.Find(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := s.verifier.Verify(ctx, user.PasswordHash, ch.CurrentPassword); err != nil {
			switch {
			case errors.Is(err, ErrHashVerification):
				obs.Ctx(ctx).Error().Err(err).Str("user_id", userID).Msg("stored password hash unusable")
			case !errors.Is(err, ErrBadCredentials):
				return nil, err
			}
			return nil, fmt.Errorf("%w: current password is incorrect", ErrInvalidInput)
		}
		hash, err := HashPassword(*ch.Password)
		if err != nil {
			return nil, err
		}
		patch.PasswordHash = &hash
	}
	user, err := accounts.Update(ctx, userID, patch)
	if err != nil {
		return nil, err
	}
	_ = audit.LogEvent(ctx, "auth.user.updated", map[string]any{
		"user_id":          userID,
		"username_changed": patch.Username != nil,
		"password_changed": patch.PasswordHash != nil,
	})
	return user, nil
}

// Deactivate soft-deletes the account. The row and its grants stay; the
// resolver and refresh reject the user from the next request on.
func (s *Service) Deactivate(ctx context.Context, accounts AccountStore, userID string) error {
	if err := accounts.Deactivate(ctx, userID); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "auth.user.deactivated", map[string]any{"user_id": userID})
	return nil
}

func (s *Service) mint(ctx context.Context, store Store, userID string) (TokenPair, error) {
	roles, err := store.Users().RoleNames(ctx, userID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("load role names: %w", err)
	}
	access, accessClaims, err := s.codec.IssueAccess(userID, roles)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshClaims, err := s.codec.IssueRefresh(userID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessClaims.ExpiresAt,
		RefreshExpiresAt: refreshClaims.ExpiresAt,
	}, nil
}

func (s *Service) loginFailed(ctx context.Context, login, reason string, err error) error {
	_ = audit.LogEvent(ctx, "auth.login.failed", map[string]any{"login": login, "reason": reason})
	return err
}
