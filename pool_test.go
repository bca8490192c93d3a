package mssqlmcp

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeConn is a Conn stand-in for pool tests; only Close is meaningful.
type fakeConn struct {
	id       int
	closed   atomic.Bool
	closeErr error
}

func (f *fakeConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, errors.New("fakeConn: QueryContext not implemented")
}

func (f *fakeConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, errors.New("fakeConn: ExecContext not implemented")
}

func (f *fakeConn) PingContext(ctx context.Context) error { return nil }

func (f *fakeConn) Close() error {
	f.closed.Store(true)
	return f.closeErr
}

// fakeProvider returns scripted credentials and counts acquisitions.
type fakeProvider struct {
	mu       sync.Mutex
	acquired int
	cred     Credential
	err      error
}

func (p *fakeProvider) Acquire(ctx context.Context) (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquired++
	if p.err != nil {
		return Credential{}, p.err
	}
	return p.cred, nil
}

func (p *fakeProvider) acquireCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquired
}

func staticCred() Credential {
	return Credential{Secret: "pw", Username: "sa", Mode: AuthStaticPassword}
}

func tokenCred(expiresAt time.Time) Credential {
	return Credential{Secret: "tok", Mode: AuthRefreshableToken, ExpiresAt: expiresAt}
}

// newTestPool builds a pool with a counting opener. Each open produces a
// fresh fakeConn with a distinct id.
func newTestPool(t *testing.T, provider CredentialProvider, opts ...PoolOption) (*Pool, *atomic.Int64) {
	t.Helper()
	var opens atomic.Int64
	openOpt := WithOpenFunc(func(ctx context.Context, cred Credential) (Conn, error) {
		n := opens.Add(1)
		return &fakeConn{id: int(n)}, nil
	})
	pool := NewPool(Config{}, provider, zerolog.Nop(), append([]PoolOption{openOpt}, opts...)...)
	return pool, &opens
}

func TestEnsure_ReusesFreshStaticConnection(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{cred: staticCred()}
	pool, opens := newTestPool(t, provider)

	first, err := pool.Ensure(context.Background())
	if err != nil {
		t.Fatalf("first Ensure failed: %v", err)
	}
	second, err := pool.Ensure(context.Background())
	if err != nil {
		t.Fatalf("second Ensure failed: %v", err)
	}

	if first != second {
		t.Error("expected identical connection instance on reuse")
	}
	if got := opens.Load(); got != 1 {
		t.Errorf("expected 1 open, got %d", got)
	}
	if got := provider.acquireCount(); got != 1 {
		t.Errorf("expected 1 credential acquisition, got %d", got)
	}
}

func TestEnsure_ReusesTokenOutsideMargin(t *testing.T) {
	t.Parallel()
	now := time.Now()
	provider := &fakeProvider{cred: tokenCred(now.Add(10 * time.Minute))}
	pool, opens := newTestPool(t, provider, WithClock(func() time.Time { return now }))

	if _, err := pool.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if _, err := pool.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if got := opens.Load(); got != 1 {
		t.Errorf("expected 1 open for fresh token, got %d", got)
	}
}

func TestEnsure_RefreshesTokenInsideMargin(t *testing.T) {
	t.Parallel()
	now := time.Now()
	// 60s to expiry is inside the 120s margin: a refresh must happen.
	provider := &fakeProvider{cred: tokenCred(now.Add(60 * time.Second))}
	pool, opens := newTestPool(t, provider, WithClock(func() time.Time { return now }))

	first, err := pool.Ensure(context.Background())
	if err != nil {
		t.Fatalf("first Ensure failed: %v", err)
	}

	// The scripted credential is always near expiry, so the next Ensure
	// acquires again and installs a new connection.
	second, err := pool.Ensure(context.Background())
	if err != nil {
		t.Fatalf("second Ensure failed: %v", err)
	}

	if first == second {
		t.Error("expected a new connection after refresh")
	}
	if got := provider.acquireCount(); got != 2 {
		t.Errorf("expected 2 acquisitions, got %d", got)
	}
	if got := opens.Load(); got != 2 {
		t.Errorf("expected 2 opens, got %d", got)
	}
	if !first.(*fakeConn).closed.Load() {
		t.Error("expected the stale connection to be closed")
	}
}

func TestEnsure_FailedRefreshClearsState(t *testing.T) {
	t.Parallel()
	now := time.Now()
	// Always inside the margin, so every Ensure attempts a refresh.
	provider := &fakeProvider{cred: tokenCred(now.Add(30 * time.Second))}
	pool, opens := newTestPool(t, provider, WithClock(func() time.Time { return now }))

	first, err := pool.Ensure(context.Background())
	if err != nil {
		t.Fatalf("seed Ensure failed: %v", err)
	}

	provider.mu.Lock()
	provider.err = errors.New("identity endpoint unavailable")
	provider.mu.Unlock()

	if _, err := pool.Ensure(context.Background()); err == nil {
		t.Fatal("expected the refresh to fail")
	}
	// A failed refresh must not leave the stale handle looking live.
	if pool.Connected() {
		t.Error("pool must not report connected after a failed refresh")
	}
	if !first.(*fakeConn).closed.Load() {
		t.Error("expected the stale connection to be closed before the refresh attempt")
	}
	if got := opens.Load(); got != 1 {
		t.Errorf("expected no new open after a failed refresh, got %d opens", got)
	}

	// Recovery: once the provider answers again, Ensure reconnects cleanly.
	provider.mu.Lock()
	provider.err = nil
	provider.cred = tokenCred(now.Add(time.Hour))
	provider.mu.Unlock()

	second, err := pool.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure after recovery failed: %v", err)
	}
	if second == first {
		t.Error("expected a fresh connection after recovery")
	}
	if !pool.Connected() {
		t.Error("pool must report connected after a successful reconnect")
	}
}

func TestEnsure_SwallowsCloseErrorOnReconnect(t *testing.T) {
	t.Parallel()
	now := time.Now()
	provider := &fakeProvider{cred: tokenCred(now.Add(30 * time.Second))}

	var opens atomic.Int64
	pool := NewPool(Config{}, provider, zerolog.Nop(),
		WithClock(func() time.Time { return now }),
		WithOpenFunc(func(ctx context.Context, cred Credential) (Conn, error) {
			n := opens.Add(1)
			return &fakeConn{id: int(n), closeErr: errors.New("close failed")}, nil
		}),
	)

	if _, err := pool.Ensure(context.Background()); err != nil {
		t.Fatalf("first Ensure failed: %v", err)
	}
	// Second Ensure closes the stale handle; its failing Close must not
	// abort the reconnect.
	if _, err := pool.Ensure(context.Background()); err != nil {
		t.Fatalf("second Ensure failed despite best-effort close: %v", err)
	}
	if got := opens.Load(); got != 2 {
		t.Errorf("expected 2 opens, got %d", got)
	}
}

func TestEnsure_AuthErrorSurfaced(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{err: &AuthError{Err: errors.New("principal rejected")}}
	pool, _ := newTestPool(t, provider)

	_, err := pool.Ensure(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if pool.Connected() {
		t.Error("pool must not report connected after auth failure")
	}
}

func TestEnsure_OpenFailureClearsState(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{cred: staticCred()}
	pool := NewPool(Config{}, provider, zerolog.Nop(),
		WithOpenFunc(func(ctx context.Context, cred Credential) (Conn, error) {
			return nil, errors.New("dial tcp: connection refused")
		}),
	)

	_, err := pool.Ensure(context.Background())
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if pool.Connected() {
		t.Error("pool must not report connected after open failure")
	}
}

func TestEnsure_ConcurrentExpiryCausesSingleReconnect(t *testing.T) {
	t.Parallel()

	// The first credential is near expiry; every refreshed credential is
	// long-lived, so exactly one reconnect should serve all callers.
	now := time.Now()
	provider := &fakeProvider{cred: tokenCred(now.Add(10 * time.Minute))}
	pool, opens := newTestPool(t, provider, WithClock(func() time.Time { return now }))

	if _, err := pool.Ensure(context.Background()); err != nil {
		t.Fatalf("seed Ensure failed: %v", err)
	}

	// Expire the installed credential, then hand out fresh ones.
	provider.mu.Lock()
	provider.cred = tokenCred(now.Add(time.Hour))
	provider.mu.Unlock()
	pool.mu.Lock()
	pool.cred = tokenCred(now.Add(30 * time.Second))
	pool.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := pool.Ensure(context.Background()); err != nil {
				t.Errorf("concurrent Ensure failed: %v", err)
			}
		}()
	}
	wg.Wait()

	// Seed open plus exactly one reconnect.
	if got := opens.Load(); got != 2 {
		t.Errorf("expected exactly one reconnect (2 opens total), got %d opens", got)
	}
	if got := provider.acquireCount(); got != 2 {
		t.Errorf("expected 2 acquisitions total, got %d", got)
	}
}

func TestPoolClose(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{cred: staticCred()}
	pool, _ := newTestPool(t, provider)

	conn, err := pool.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if err := pool.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !conn.(*fakeConn).closed.Load() {
		t.Error("expected connection to be closed")
	}
	if pool.Connected() {
		t.Error("pool must not report connected after Close")
	}
	// Close is idempotent.
	if err := pool.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestBuildConnString(t *testing.T) {
	t.Parallel()
	cfg := Config{
		Server:            "db.example.com",
		Database:          "appdb",
		ConnectionTimeout: 30 * time.Second,
	}

	got := buildConnString(cfg, staticCred())
	for _, part := range []string{
		"server=db.example.com",
		"database=appdb",
		"encrypt=true",
		"TrustServerCertificate=false",
		"dial timeout=30",
		"user id=sa",
		"password=pw",
	} {
		if !strings.Contains(got, part) {
			t.Errorf("conn string missing %q: %s", part, got)
		}
	}

	// Token mode must not embed credentials in the string; the connector
	// supplies the token separately.
	got = buildConnString(cfg, tokenCred(time.Now().Add(time.Hour)))
	if strings.Contains(got, "password=") || strings.Contains(got, "user id=") {
		t.Errorf("token conn string must not carry user/password fields: %s", got)
	}

	cfg.TrustServerCertificate = true
	if got := buildConnString(cfg, staticCred()); !strings.Contains(got, "TrustServerCertificate=true") {
		t.Errorf("trust flag not reflected: %s", got)
	}
}

func TestCredentialFreshness(t *testing.T) {
	t.Parallel()
	now := time.Now()

	if !staticCred().FreshFor(RefreshMargin, now) {
		t.Error("static credentials must always be fresh")
	}
	if !tokenCred(now.Add(10 * time.Minute)).FreshFor(RefreshMargin, now) {
		t.Error("token 10m from expiry must be fresh with a 120s margin")
	}
	if tokenCred(now.Add(60 * time.Second)).FreshFor(RefreshMargin, now) {
		t.Error("token 60s from expiry must not be fresh with a 120s margin")
	}
	if tokenCred(now.Add(-time.Minute)).FreshFor(RefreshMargin, now) {
		t.Error("expired token must not be fresh")
	}
}
