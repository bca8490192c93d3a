package mssqlmcp

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// azureSQLScope is the token audience for Azure SQL Database.
const azureSQLScope = "https://database.windows.net/.default"

// Credential is an immutable authentication secret with optional expiry.
// Refreshed credentials replace the old value; they are never mutated.
type Credential struct {
	Secret    string
	Username  string
	Mode      AuthMode
	ExpiresAt time.Time // zero for static credentials
}

// FreshFor reports whether the credential is still usable at instant now
// with the given safety margin before expiry. Static credentials are
// always fresh.
func (c Credential) FreshFor(margin time.Duration, now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	return c.ExpiresAt.Sub(now) > margin
}

// AuthError reports a failed credential acquisition: the identity backend
// was unreachable or rejected the configured principal.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("credential acquisition failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// CredentialProvider acquires a connection credential. Providers do not
// cache: reuse is the pool's call, because only the pool knows whether the
// current credential is still fresh enough to keep.
type CredentialProvider interface {
	Acquire(ctx context.Context) (Credential, error)
}

// StaticCredentials provides a username/password credential with no expiry.
type StaticCredentials struct {
	Username string
	Password string
}

// Acquire implements CredentialProvider.
func (s StaticCredentials) Acquire(ctx context.Context) (Credential, error) {
	if s.Username == "" || s.Password == "" {
		return Credential{}, &AuthError{Err: fmt.Errorf("static credentials require both username and password")}
	}
	return Credential{
		Secret:   s.Password,
		Username: s.Username,
		Mode:     AuthStaticPassword,
	}, nil
}

// EntraTokenProvider acquires Microsoft Entra access tokens for Azure SQL.
// Each Acquire requests a fresh token and records its server-declared expiry.
type EntraTokenProvider struct {
	cred   azcore.TokenCredential
	scopes []string
}

// NewEntraTokenProvider builds a provider over the default Entra credential
// chain (environment, managed identity, Azure CLI).
func NewEntraTokenProvider() (*EntraTokenProvider, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, &AuthError{Err: err}
	}
	return NewEntraTokenProviderWithCredential(cred), nil
}

// NewEntraTokenProviderWithCredential builds a provider over an explicit
// token credential; used by tests and callers with custom identity chains.
func NewEntraTokenProviderWithCredential(cred azcore.TokenCredential) *EntraTokenProvider {
	return &EntraTokenProvider{cred: cred, scopes: []string{azureSQLScope}}
}

// Acquire implements CredentialProvider.
func (p *EntraTokenProvider) Acquire(ctx context.Context) (Credential, error) {
	token, err := p.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: p.scopes})
	if err != nil {
		return Credential{}, &AuthError{Err: err}
	}
	return Credential{
		Secret:    token.Token,
		Mode:      AuthRefreshableToken,
		ExpiresAt: token.ExpiresOn,
	}, nil
}

// NewCredentialProvider selects the provider matching the configured auth
// mode.
func NewCredentialProvider(cfg Config) (CredentialProvider, error) {
	if cfg.AuthMode() == AuthStaticPassword {
		return StaticCredentials{Username: cfg.Username, Password: cfg.Password}, nil
	}
	return NewEntraTokenProvider()
}
