package pg

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"accessgate.org/internal/auth"
	"accessgate.org/internal/obs"
)

// IsolationLevel is the transaction isolation a request runs under.
type IsolationLevel int

const (
	ReadCommitted IsolationLevel = iota
	RepeatableRead
	Serializable
)

func (l IsolationLevel) String() string {
	switch l {
	case RepeatableRead:
		return "repeatable_read"
	case Serializable:
		return "serializable"
	default:
		return "read_committed"
	}
}

func (l IsolationLevel) txOptions() *sql.TxOptions {
	switch l {
	case RepeatableRead:
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead}
	case Serializable:
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	default:
		return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}
}

// querier is satisfied by *sql.Tx and detached.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Session is one request's transaction. Every repository it returns runs on
// the same tx, so the resolver and the handler see one snapshot.
type Session struct {
	conn  *sql.Conn
	tx    *sql.Tx
	level IsolationLevel

	mu          sync.Mutex
	done        bool
	afterCommit []func()
	released    sync.Once
}

var _ auth.Store = (*Session)(nil)

func newSession(conn *sql.Conn, tx *sql.Tx, level IsolationLevel) *Session {
	return &Session{conn: conn, tx: tx, level: level}
}

// Level returns the isolation the session was opened with.
func (s *Session) Level() IsolationLevel { return s.level }

func (s *Session) q() querier { return detached{s.tx} }

func (s *Session) Users() auth.UserStore { return &UserRepo{q: s.q()} }

// Accounts exposes the user repository with its write operations.
func (s *Session) Accounts() *UserRepo { return &UserRepo{q: s.q()} }

func (s *Session) Rules() auth.RuleStore { return &RuleRepo{q: s.q()} }

// AccessRules exposes the rule repository with its admin operations.
func (s *Session) AccessRules() *RuleRepo { return &RuleRepo{q: s.q()} }

func (s *Session) Orders() *OrderRepo { return newOrderRepo(s.q()) }

func (s *Session) UserRoles() *UserRoleRepo { return newUserRoleRepo(s.q()) }

// AfterCommit queues fn to run once Commit succeeds. Hooks of a session that
// rolls back are dropped.
func (s *Session) AfterCommit(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterCommit = append(s.afterCommit, fn)
}

// Commit finishes the transaction. A failed commit is classified, so a
// serialization conflict detected at commit time reports
// ErrSerializationFailure. Commit after Commit or Release is an error.
func (s *Session) Commit() error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return sql.ErrTxDone
	}
	s.done = true
	hooks := s.afterCommit
	s.afterCommit = nil
	s.mu.Unlock()

	err := Classify(s.tx.Commit())
	s.observe(err, "commit")
	s.closeConn()
	if err != nil {
		return err
	}
	for _, fn := range hooks {
		fn()
	}
	return nil
}

// Release rolls back unless Commit already ran. Safe to call any number of
// times and after Commit.
func (s *Session) Release() {
	s.released.Do(func() {
		s.mu.Lock()
		pending := !s.done
		s.done = true
		s.mu.Unlock()
		if pending {
			err := s.tx.Rollback()
			if err != nil && !errors.Is(err, sql.ErrTxDone) {
				obs.Logger().Warn().Err(err).Str("isolation", s.level.String()).Msg("rollback failed")
			}
			obs.ObserveTx(s.level.String(), "rollback")
		}
		s.closeConn()
	})
}

func (s *Session) observe(err error, ok string) {
	outcome := ok
	switch {
	case err == nil:
	case errors.Is(err, ErrSerializationFailure):
		outcome = "conflict"
	case errors.Is(err, ErrDatabaseUnavailable):
		outcome = "unavailable"
	default:
		outcome = "error"
	}
	obs.ObserveTx(s.level.String(), outcome)
}

func (s *Session) closeConn() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

// detached runs statements on a context that ignores cancellation, so a
// dropped client does not leave the tx half-applied.
type detached struct{ tx *sql.Tx }

func (d detached) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.tx.ExecContext(context.WithoutCancel(ctx), query, args...)
}

func (d detached) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.tx.QueryContext(context.WithoutCancel(ctx), query, args...)
}

func (d detached) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.tx.QueryRowContext(context.WithoutCancel(ctx), query, args...)
}
