package probe

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	perrors "github.com/koltyakov/pgdiag/internal/errors"
	"github.com/koltyakov/pgdiag/internal/logging"
)

// Queryer is the slice of a database session the executor needs.
// *sql.DB, *sql.Conn and *conn.Session all satisfy it.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Executor runs single queries and normalizes their rows.
type Executor struct {
	log     *logging.Logger
	timeout time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithTimeout bounds each query. Zero, the default, leaves queries
// unbounded apart from the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		e.timeout = d
	}
}

// NewExecutor returns an Executor that reports failures to log.
func NewExecutor(log *logging.Logger, opts ...Option) *Executor {
	if log == nil {
		log = logging.NewNop()
	}
	e := &Executor{log: log}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithLogger returns a copy of e that reports to log.
func (e *Executor) WithLogger(log *logging.Logger) *Executor {
	if log == nil {
		log = logging.NewNop()
	}
	cp := *e
	cp.log = log
	return &cp
}

// Execute runs query and never fails: any error is logged once, with a
// bounded preview of the query, and yields an empty Result.
func (e *Executor) Execute(ctx context.Context, q Queryer, query string) Result {
	res, err := e.Query(ctx, q, query)
	if err != nil {
		e.report(e.log, err)
		return Result{}
	}
	return res
}

// ExecuteProbe runs p against q with the same failure isolation as
// Execute. The returned error is informational only (it has already been
// logged) and lets callers record which probes failed.
func (e *Executor) ExecuteProbe(ctx context.Context, q Queryer, p Probe, query string) (Result, error) {
	log := e.log.WithProbe(p.Name)

	start := time.Now()
	res, err := e.Query(ctx, q, query)
	if err != nil {
		e.report(log, err)
		return Result{}, err
	}

	log.Debug("probe finished", "rows", len(res), "took", time.Since(start))
	return res, nil
}

// Query runs query verbatim and returns its normalized rows. A statement
// without a result set (a command) returns an empty Result and no error.
// Failures are returned as *errors.QueryError; nothing is logged.
func (e *Executor) Query(ctx context.Context, q Queryer, query string) (Result, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, queryError(query, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, queryError(query, err)
	}

	res, err := scanRecords(rows, cols)
	if err != nil {
		return nil, queryError(query, err)
	}
	return res, nil
}

func scanRecords(rows *sql.Rows, cols []string) (Result, error) {
	res := Result{}

	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		res = append(res, NewRecord(cols, vals))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// a command has no columns and therefore nothing to report
	if len(cols) == 0 {
		return Result{}, nil
	}
	return res, nil
}

func (e *Executor) report(log *logging.Logger, err error) {
	var qe *perrors.QueryError
	if !errors.As(err, &qe) {
		log.Error("query failed", "error", err)
		return
	}

	args := []any{"query", qe.Query, "error", qe.Err}
	if qe.SQLState != "" {
		args = append(args, "sqlstate", qe.SQLState)
	}
	log.Error("query failed", args...)
}

func queryError(query string, err error) *perrors.QueryError {
	qe := perrors.NewQueryError(query, err)
	qe.SQLState = SQLState(err)
	return qe
}

// SQLState extracts the SQLSTATE code from pgx and lib/pq errors.
func SQLState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
