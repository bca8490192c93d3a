package mssqlmcp

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/rs/zerolog"

	"github.com/sqlbridge/mssql-mcp/internal/redact"
)

// RefreshMargin is the buffer before credential expiry within which the
// pool refreshes proactively. Refreshable tokens can expire mid-statement;
// refreshing strictly before expiry avoids mid-transaction auth failures
// and statement-level retry logic.
const RefreshMargin = 120 * time.Second

// Conn is the surface operation handlers get from the pool. *sql.DB
// satisfies it; tests substitute fakes.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PingContext(ctx context.Context) error
	Close() error
}

// ConnectionError reports that the pool could not establish or re-establish
// a connection. Fatal to the current dispatch; retry policy belongs to the
// dispatcher's caller.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed: %s", redact.ScrubErr(e.Err))
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// OpenFunc opens a database handle for the given credential.
type OpenFunc func(ctx context.Context, cred Credential) (Conn, error)

// Pool owns at most one live database handle at a time and decides when to
// reuse versus recreate it based on credential freshness. Construct one per
// process and pass it by reference; the mutex makes Ensure safe for
// concurrent dispatches.
type Pool struct {
	provider CredentialProvider
	open     OpenFunc
	logger   zerolog.Logger
	margin   time.Duration
	now      func() time.Time

	mu   sync.Mutex
	conn Conn
	cred Credential
	live bool
}

// PoolOption customizes pool construction.
type PoolOption func(*Pool)

// WithOpenFunc replaces the default SQL Server opener; tests use this to
// install fake connections.
func WithOpenFunc(open OpenFunc) PoolOption {
	return func(p *Pool) { p.open = open }
}

// WithClock replaces the pool's time source for freshness checks.
func WithClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// WithRefreshMargin overrides the proactive refresh window.
func WithRefreshMargin(margin time.Duration) PoolOption {
	return func(p *Pool) { p.margin = margin }
}

// NewPool creates a Pool for the given configuration and provider.
func NewPool(cfg Config, provider CredentialProvider, logger zerolog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		provider: provider,
		open:     sqlServerOpener(cfg),
		logger:   logger,
		margin:   RefreshMargin,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ensure returns a live connection, reusing the existing handle when the
// credential is static or comfortably inside its expiry window, and
// reconnecting otherwise. Idempotent; called before every dispatch.
//
// The critical section covers only the state check and replacement. SQL
// execution happens outside the lock, so long-running statements do not
// block other callers' connection checks.
func (p *Pool) Ensure(ctx context.Context) (Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.live && p.cred.FreshFor(p.margin, p.now()) {
		return p.conn, nil
	}

	// The handle is stale or absent. Tear it down before refreshing so a
	// failed refresh never leaves a live-looking pool behind: Connected()
	// must imply a credential fresher than now plus the margin.
	if p.conn != nil {
		// Best effort: a close failure must not block the reconnect.
		if cerr := p.conn.Close(); cerr != nil {
			p.logger.Warn().Str("error", redact.ScrubErr(cerr)).Msg("closing stale connection failed")
		}
	}
	p.conn, p.live = nil, false
	p.cred = Credential{}

	cred, err := p.provider.Acquire(ctx)
	if err != nil {
		if _, ok := err.(*AuthError); ok {
			return nil, err
		}
		return nil, &AuthError{Err: err}
	}

	conn, err := p.open(ctx, cred)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}

	p.conn = conn
	p.cred = cred
	p.live = true
	p.logger.Info().
		Str("auth_mode", cred.Mode.String()).
		Bool("expires", !cred.ExpiresAt.IsZero()).
		Msg("database connection established")
	return conn, nil
}

// Connected reports whether the pool currently holds a live handle.
func (p *Pool) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// Close releases the pooled handle, if any. Safe to call multiple times.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn, p.live = nil, false
	p.cred = Credential{}
	return err
}

// sqlServerOpener returns the default OpenFunc: it builds a go-mssqldb
// connector for the credential's auth mode, caps the handle at a single
// underlying connection, and verifies it with a ping.
func sqlServerOpener(cfg Config) OpenFunc {
	return func(ctx context.Context, cred Credential) (Conn, error) {
		dsn := buildConnString(cfg, cred)

		var db *sql.DB
		switch cred.Mode {
		case AuthRefreshableToken:
			c, err := mssql.NewAccessTokenConnector(dsn, func() (string, error) {
				return cred.Secret, nil
			})
			if err != nil {
				return nil, fmt.Errorf("build token connector: %w", err)
			}
			db = sql.OpenDB(c)
		default:
			c, err := mssql.NewConnector(dsn)
			if err != nil {
				return nil, fmt.Errorf("build connector: %w", err)
			}
			db = sql.OpenDB(c)
		}

		// One live connection process-wide: handlers must never observe two.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectionTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("verify connection: %w", err)
		}
		return db, nil
	}
}

// buildConnString assembles an ADO-style connection string. Encryption is
// always requested; certificate trust is configuration-controlled.
func buildConnString(cfg Config, cred Credential) string {
	parts := []string{
		"server=" + cfg.Server,
		"database=" + cfg.Database,
		"encrypt=true",
		"TrustServerCertificate=" + strconv.FormatBool(cfg.TrustServerCertificate),
		"dial timeout=" + strconv.Itoa(int(cfg.ConnectionTimeout/time.Second)),
		"app name=gomsmcp",
	}
	if cred.Mode == AuthStaticPassword {
		parts = append(parts,
			"user id="+cred.Username,
			"password="+cred.Secret,
		)
	}
	return strings.Join(parts, ";")
}
