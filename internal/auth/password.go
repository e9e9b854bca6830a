package auth

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// HashPassword hashes plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext password with stored hash.
// A mismatch yields ErrBadCredentials, a malformed hash ErrHashVerification.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return fmt.Errorf("%w: password hash is empty", ErrHashVerification)
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrBadCredentials
	default:
		return fmt.Errorf("%w: %v", ErrHashVerification, err)
	}
}

// Verifier runs password checks with bounded parallelism so bursts of logins
// cannot pin every CPU on bcrypt.
type Verifier struct {
	sem *semaphore.Weighted
}

// NewVerifier limits concurrent verifications to workers (2*GOMAXPROCS when <= 0).
func NewVerifier(workers int) *Verifier {
	if workers <= 0 {
		workers = 2 * runtime.GOMAXPROCS(0)
	}
	return &Verifier{sem: semaphore.NewWeighted(int64(workers))}
}

// Verify waits for a free slot and checks the password.
func (v *Verifier) Verify(ctx context.Context, hash, password string) error {
	if err := v.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer v.sem.Release(1)
	return VerifyPassword(hash, password)
}
