package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type serviceFixture struct {
	svc   *Service
	codec *Codec
	reg   *MemoryRegistry
	store *memStore
	user  *User
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	codec, reg := newTestCodec(t)
	store := newMemStore()
	role := store.addRole("user")
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-pass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	user := store.addUser(&User{
		Email:        "ann@example.com",
		Username:     "ann",
		PasswordHash: string(hash),
		IsActive:     true,
	}, role)
	return &serviceFixture{svc: NewService(codec, NewVerifier(2)), codec: codec, reg: reg, store: store, user: user}
}

func TestLoginIssuesPair(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	for _, creds := range []Credentials{
		{Username: "ann", Password: "s3cret-pass"},
		{Email: "ANN@example.com", Password: "s3cret-pass"},
		{Username: "ann", Email: "someone@else.com", Password: "s3cret-pass"},
	} {
		pair, err := f.svc.Login(ctx, f.store, creds)
		if err != nil {
			t.Fatalf("Login(%+v): %v", creds, err)
		}
		claims, err := f.codec.DecodeAccess(ctx, pair.AccessToken)
		if err != nil {
			t.Fatalf("DecodeAccess: %v", err)
		}
		if claims.Subject != f.user.ID {
			t.Fatalf("subject = %q", claims.Subject)
		}
		if len(claims.Roles) != 1 || claims.Roles[0] != "user" {
			t.Fatalf("roles = %v", claims.Roles)
		}
		if _, err := f.codec.DecodeRefresh(ctx, pair.RefreshToken); err != nil {
			t.Fatalf("DecodeRefresh: %v", err)
		}
		if !pair.RefreshExpiresAt.After(pair.AccessExpiresAt) {
			t.Fatalf("refresh should outlive access: %v vs %v", pair.RefreshExpiresAt, pair.AccessExpiresAt)
		}
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	cases := []Credentials{
		{Username: "ann", Password: "wrong"},
		{Username: "nobody", Password: "s3cret-pass"},
		{Username: "ann"},
		{Password: "s3cret-pass"},
	}
	for _, creds := range cases {
		if _, err := f.svc.Login(ctx, f.store, creds); !errors.Is(err, ErrBadCredentials) {
			t.Fatalf("Login(%+v) = %v, want ErrBadCredentials", creds, err)
		}
	}
}

func TestLoginRepeatedFailuresDoNotLockAccount(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	for range 10 {
		_, _ = f.svc.Login(ctx, f.store, Credentials{Username: "ann", Password: "nope"})
	}
	if _, err := f.svc.Login(ctx, f.store, Credentials{Username: "ann", Password: "s3cret-pass"}); err != nil {
		t.Fatalf("correct password after failures: %v", err)
	}
}

func TestLoginInactiveAndCorruptHash(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.store.addUser(&User{Username: "off", Email: "off@example.com", PasswordHash: f.user.PasswordHash})
	if _, err := f.svc.Login(ctx, f.store, Credentials{Username: "off", Password: "s3cret-pass"}); !errors.Is(err, ErrUserInactive) {
		t.Fatalf("inactive: %v", err)
	}

	if _, err := f.svc.Login(ctx, f.store, Credentials{Username: "off", Password: "guess"}); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("inactive with wrong password must not reveal the account state: %v", err)
	}

	f.store.addUser(&User{Username: "broken", Email: "b@example.com", PasswordHash: "garbage", IsActive: true})
	if _, err := f.svc.Login(ctx, f.store, Credentials{Username: "broken", Password: "x"}); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("corrupt hash: %v", err)
	}
}

func TestRefreshRotatesOnce(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, f.store, Credentials{Username: "ann", Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	next, err := f.svc.Refresh(ctx, f.store, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken || next.AccessToken == pair.AccessToken {
		t.Fatal("rotation must mint new tokens")
	}
	if _, err := f.svc.Refresh(ctx, f.store, pair.RefreshToken); !errors.Is(err, ErrBlacklisted) {
		t.Fatalf("second use: %v, want ErrBlacklisted", err)
	}
	if _, err := f.svc.Refresh(ctx, f.store, next.RefreshToken); err != nil {
		t.Fatalf("rotated token should work: %v", err)
	}
}

func TestRefreshConcurrentUseWinsOnce(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	pair, err := f.svc.Login(ctx, f.store, Credentials{Username: "ann", Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(ctx, f.store, pair.RefreshToken)
			switch {
			case err == nil:
				wins.Add(1)
			case !errors.Is(err, ErrBlacklisted):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := wins.Load(); got != 1 {
		t.Fatalf("successful refreshes = %d, want 1", got)
	}
}

func TestRefreshRejections(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	access, _, _ := f.codec.IssueAccess(f.user.ID, nil)
	if _, err := f.svc.Refresh(ctx, f.store, access); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token as refresh: %v", err)
	}

	ghost, _, _ := f.codec.IssueRefresh("00000000-0000-4000-8000-000000000000")
	if _, err := f.svc.Refresh(ctx, f.store, ghost); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("deleted user: %v", err)
	}

	f.user.IsActive = false
	token, _, _ := f.codec.IssueRefresh(f.user.ID)
	if _, err := f.svc.Refresh(ctx, f.store, token); !errors.Is(err, ErrUserInactive) {
		t.Fatalf("inactive user: %v", err)
	}
	if banned, _ := f.reg.IsBanned(ctx, token); banned {
		t.Fatal("rejected refresh must not be consumed")
	}
}

func TestLogoutBansBothTokens(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	pair, err := f.svc.Login(ctx, f.store, Credentials{Username: "ann", Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := f.svc.Logout(ctx, pair.AccessToken, pair.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := f.codec.DecodeAccess(ctx, pair.AccessToken); !errors.Is(err, ErrBlacklisted) {
		t.Fatalf("access after logout: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, f.store, pair.RefreshToken); !errors.Is(err, ErrBlacklisted) {
		t.Fatalf("refresh after logout: %v", err)
	}
}

func TestLogoutSkipsUnusableTokens(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	expired, _, _ := f.codec.EncodeAccess(AccessClaims{Subject: f.user.ID}, -time.Minute)

	if err := f.svc.Logout(ctx, "garbage", ""); err != nil {
		t.Fatalf("Logout garbage: %v", err)
	}
	if err := f.svc.Logout(ctx, expired, ""); err != nil {
		t.Fatalf("Logout expired: %v", err)
	}
	if err := f.svc.Logout(ctx, "", ""); err != nil {
		t.Fatalf("Logout empty: %v", err)
	}
	if f.reg.Len() != 0 {
		t.Fatalf("registry holds %d entries, want 0", f.reg.Len())
	}
}

func TestLogoutReportsRegistryFailure(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	access, _, _ := f.codec.IssueAccess(f.user.ID, nil)

	reg := &banFailRegistry{Registry: NewMemoryRegistry(time.Hour)}
	codec, err := NewCodec([]byte(testSecret), reg)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	svc := NewService(codec, nil)
	if err := svc.Logout(ctx, access, ""); err == nil {
		t.Fatal("expected ban failure to surface")
	}
}

type banFailRegistry struct{ Registry }

func (banFailRegistry) Ban(context.Context, string) error { return errors.New("store offline") }

func TestRegisterGrantsDefaultRole(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	u, err := f.svc.Register(ctx, f.store, Registration{Email: " New@Example.com ", Username: "newbie", Password: "longpassword"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.ID == "" || u.Email != "new@example.com" || !u.IsActive {
		t.Fatalf("unexpected user %+v", u)
	}
	if u.PasswordHash == "longpassword" {
		t.Fatal("password stored in plaintext")
	}
	names, _ := f.store.RoleNames(ctx, u.ID)
	if len(names) != 1 || names[0] != DefaultRole {
		t.Fatalf("roles = %v", names)
	}
	if _, err := f.svc.Login(ctx, f.store, Credentials{Email: "new@example.com", Password: "longpassword"}); err != nil {
		t.Fatalf("login after register: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Register(ctx, f.store, Registration{Password: "x"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing email: %v", err)
	}
	if _, err := f.svc.Register(ctx, f.store, Registration{Email: "a@b.c"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing password: %v", err)
	}
}

func TestLoginCancelledWhileWaitingForVerifier(t *testing.T) {
	f := newServiceFixture(t)
	f.svc = NewService(f.codec, NewVerifier(1))
	if err := f.svc.verifier.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer f.svc.verifier.sem.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.svc.Login(ctx, f.store, Credentials{Username: "ann", Password: "s3cret-pass"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestPrepareRefreshDoesNotSpendToken(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	token, _, _ := f.codec.IssueRefresh(f.user.ID)

	// An abandoned rotation, as when the surrounding transaction fails.
	if _, err := f.svc.PrepareRefresh(ctx, f.store, token); err != nil {
		t.Fatalf("PrepareRefresh: %v", err)
	}
	if banned, _ := f.reg.IsBanned(ctx, token); banned {
		t.Fatal("prepared rotation must not revoke the presented token")
	}

	first, err := f.svc.PrepareRefresh(ctx, f.store, token)
	if err != nil {
		t.Fatalf("retry PrepareRefresh: %v", err)
	}
	second, err := f.svc.PrepareRefresh(ctx, f.store, token)
	if err != nil {
		t.Fatalf("concurrent PrepareRefresh: %v", err)
	}
	pair, err := f.svc.CompleteRefresh(ctx, first)
	if err != nil {
		t.Fatalf("CompleteRefresh: %v", err)
	}
	if pair.RefreshToken == "" || pair.RefreshToken == token {
		t.Fatal("completed rotation must hand out a new refresh token")
	}
	if _, err := f.svc.CompleteRefresh(ctx, second); !errors.Is(err, ErrBlacklisted) {
		t.Fatalf("losing rotation: %v, want ErrBlacklisted", err)
	}
	if _, err := f.svc.PrepareRefresh(ctx, f.store, token); !errors.Is(err, ErrBlacklisted) {
		t.Fatalf("spent token: %v, want ErrBlacklisted", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	name := "  annie "
	user, err := f.svc.UpdateProfile(ctx, f.store, f.user.ID, ProfileChange{Username: &name})
	if err != nil {
		t.Fatalf("UpdateProfile username: %v", err)
	}
	if user.Username != "annie" {
		t.Fatalf("username = %q", user.Username)
	}
	if f.store.count("Find") != 0 {
		t.Fatal("username change must not load the password hash")
	}

	newPass := "n3w-secret-pass"
	if _, err := f.svc.UpdateProfile(ctx, f.store, f.user.ID, ProfileChange{Password: &newPass, CurrentPassword: "wrong"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("wrong current password: %v, want ErrInvalidInput", err)
	}
	if _, err := f.svc.UpdateProfile(ctx, f.store, f.user.ID, ProfileChange{Password: &newPass, CurrentPassword: "s3cret-pass"}); err != nil {
		t.Fatalf("UpdateProfile password: %v", err)
	}
	if _, err := f.svc.Login(ctx, f.store, Credentials{Username: "annie", Password: "s3cret-pass"}); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("old password after change: %v", err)
	}
	if _, err := f.svc.Login(ctx, f.store, Credentials{Username: "annie", Password: newPass}); err != nil {
		t.Fatalf("new password: %v", err)
	}

	if _, err := f.svc.UpdateProfile(ctx, f.store, f.user.ID, ProfileChange{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty change: %v, want ErrInvalidInput", err)
	}
}

func TestDeactivateBlocksLoginAndRefresh(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	pair, err := f.svc.Login(ctx, f.store, Credentials{Username: "ann", Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := f.svc.Deactivate(ctx, f.store, f.user.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, err := f.svc.Login(ctx, f.store, Credentials{Username: "ann", Password: "s3cret-pass"}); !errors.Is(err, ErrUserInactive) {
		t.Fatalf("login after deactivation: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, f.store, pair.RefreshToken); !errors.Is(err, ErrUserInactive) {
		t.Fatalf("refresh after deactivation: %v", err)
	}
	if _, err := NewResolver().Resolve(ctx, f.store, f.user.ID, ElementOrder); !errors.Is(err, ErrUserInactive) {
		t.Fatalf("resolve after deactivation: %v", err)
	}
	if err := f.svc.Deactivate(ctx, f.store, "00000000-0000-4000-8000-000000000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown user: %v", err)
	}
}
