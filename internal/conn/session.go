package conn

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/lib/pq"              // registers the "postgres" driver

	perrors "github.com/koltyakov/pgdiag/internal/errors"
)

// openDB is swapped in tests to hand out a mocked *sql.DB.
var openDB = sql.Open

// Session is one open, ready-to-query database session. It pins a single
// physical connection so that every probe of a run observes the same
// backend.
type Session struct {
	db   *sql.DB
	conn *sql.Conn
	addr string

	once     sync.Once
	closeErr error
}

// Open establishes a session. An invalid cfg is reported as is; every
// failure past validation is returned as a *errors.ConnectionError and
// leaves nothing open behind.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.WithDefaults()
	addr := cfg.Addr()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := openDB(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, perrors.NewConnectionError(addr, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	dialCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	c, err := db.Conn(dialCtx)
	if err != nil {
		_ = db.Close()
		return nil, perrors.NewConnectionError(addr, err)
	}

	if err := c.PingContext(dialCtx); err != nil {
		_ = c.Close()
		_ = db.Close()
		return nil, perrors.NewConnectionError(addr, err)
	}

	return &Session{db: db, conn: c, addr: addr}, nil
}

// QueryContext runs query on the pinned connection.
func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, query, args...)
}

// Addr returns host:port/dbname of the session.
func (s *Session) Addr() string {
	return s.addr
}

// Close releases the connection and the underlying handle. It is safe to
// call more than once; the release itself happens exactly once and every
// call returns the same result.
func (s *Session) Close() error {
	s.once.Do(func() {
		var errs perrors.MultiError
		errs.Add(s.conn.Close())
		errs.Add(s.db.Close())
		s.closeErr = errs.ErrorOrNil()
	})
	return s.closeErr
}

// WithSession opens a session, hands it to fn and closes it when fn
// returns, fails or panics. A connection failure is returned untouched so
// callers can detect it with errors.Is(err, errors.ErrConnectionFailed).
func WithSession(ctx context.Context, cfg Config, fn func(*Session) error) (err error) {
	s, err := Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close session: %w", cerr)
		}
	}()

	return fn(s)
}
