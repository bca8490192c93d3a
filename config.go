package mssqlmcp

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// AuthMode selects how the gateway authenticates to SQL Server.
type AuthMode int

const (
	// AuthStaticPassword uses SQL_USERNAME/SQL_PASSWORD. The credential
	// never expires.
	AuthStaticPassword AuthMode = iota
	// AuthRefreshableToken uses a Microsoft Entra access token with a
	// server-declared expiry, renewed proactively by the pool.
	AuthRefreshableToken
)

func (m AuthMode) String() string {
	if m == AuthRefreshableToken {
		return "entra_token"
	}
	return "sql_password"
}

// Config is the gateway configuration, consumed at process start.
// All values come from environment-style keys (see Load).
type Config struct {
	Server                 string
	Database               string
	Username               string
	Password               string
	TrustServerCertificate bool
	ConnectionTimeout      time.Duration
	QueryTimeout           time.Duration
	ReadOnly               bool
	MaxRows                int

	Logging LoggingConfig
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// AuthMode derives the authentication mode from the configured credentials:
// a username and password select static SQL authentication, their absence
// selects refreshable Entra token authentication.
func (c Config) AuthMode() AuthMode {
	if c.Username != "" && c.Password != "" {
		return AuthStaticPassword
	}
	return AuthRefreshableToken
}

// Validate reports the only condition fatal at startup: a missing server
// or database name.
func (c Config) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("config: SERVER_NAME is required")
	}
	if c.Database == "" {
		return fmt.Errorf("config: DATABASE_NAME is required")
	}
	return nil
}

// Load reads configuration from the given viper instance, which the caller
// binds to the process environment. Defaults are applied for everything
// except server and database names.
func Load(v *viper.Viper) (Config, error) {
	v.SetDefault("trust_server_certificate", false)
	v.SetDefault("connection_timeout", 30)
	v.SetDefault("query_timeout", 60)
	v.SetDefault("readonly", false)
	v.SetDefault("max_rows", 1000)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	cfg := Config{
		Server:                 v.GetString("server_name"),
		Database:               v.GetString("database_name"),
		Username:               v.GetString("sql_username"),
		Password:               v.GetString("sql_password"),
		TrustServerCertificate: v.GetBool("trust_server_certificate"),
		ConnectionTimeout:      time.Duration(v.GetInt("connection_timeout")) * time.Second,
		QueryTimeout:           time.Duration(v.GetInt("query_timeout")) * time.Second,
		ReadOnly:               v.GetBool("readonly"),
		MaxRows:                v.GetInt("max_rows"),
		Logging: LoggingConfig{
			Level:  v.GetString("log_level"),
			Format: v.GetString("log_format"),
		},
	}

	if cfg.ConnectionTimeout <= 0 {
		return Config{}, fmt.Errorf("config: CONNECTION_TIMEOUT must be > 0")
	}
	if cfg.QueryTimeout <= 0 {
		return Config{}, fmt.Errorf("config: QUERY_TIMEOUT must be > 0")
	}
	if cfg.MaxRows <= 0 {
		return Config{}, fmt.Errorf("config: MAX_ROWS must be > 0")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NewEnvViper returns a viper instance bound to the gateway's environment
// keys. Kept separate from Load so tests can construct isolated instances.
func NewEnvViper() *viper.Viper {
	v := viper.New()
	for _, key := range []string{
		"server_name",
		"database_name",
		"sql_username",
		"sql_password",
		"trust_server_certificate",
		"connection_timeout",
		"query_timeout",
		"readonly",
		"max_rows",
		"log_level",
		"log_format",
		"http_port",
	} {
		// BindEnv with an explicit variable name: SERVER_NAME et al. are
		// published without a prefix by the callers that launch the gateway.
		_ = v.BindEnv(key, toEnvKey(key))
	}
	return v
}

func toEnvKey(key string) string {
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
