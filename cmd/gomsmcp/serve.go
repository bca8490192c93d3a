package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	mssqlmcp "github.com/sqlbridge/mssql-mcp"
)

func runServe() error {
	ctx := context.Background()

	v := mssqlmcp.NewEnvViper()
	config, err := mssqlmcp.Load(v)
	if err != nil {
		return err
	}

	// A username without a password means interactive use: prompt rather
	// than silently switching to token authentication.
	if config.Username != "" && config.Password == "" {
		config.Password = promptPassword(fmt.Sprintf("Password for %s: ", config.Username))
		if config.Password == "" {
			return fmt.Errorf("SQL_USERNAME is set but no password was provided")
		}
	}

	logger := setupLogger(config.Logging)

	provider, err := mssqlmcp.NewCredentialProvider(config)
	if err != nil {
		return fmt.Errorf("failed to create credential provider: %w", err)
	}

	pool := mssqlmcp.NewPool(config, provider, logger)
	defer pool.Close()

	dispatcher, err := mssqlmcp.NewDispatcher(config, pool, logger)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	// Establish the connection up front so startup fails fast on bad
	// configuration instead of on the first tool call.
	logger.Info().Str("server", config.Server).Str("database", config.Database).Msg("testing database connection")
	if _, err := pool.Ensure(ctx); err != nil {
		logger.Error().Err(err).Msg("database connection test failed")
		return fmt.Errorf("database connection test failed: %w", err)
	}
	logger.Info().Msg("database connection test successful")

	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, result *mcp.InitializeResult) {
		logger.Info().
			Str("client_name", req.Params.ClientInfo.Name).
			Str("client_version", req.Params.ClientInfo.Version).
			Msg("AI agent connected (MCP initialize)")
	})

	mcpServer := server.NewMCPServer("gomsmcp", version,
		server.WithToolCapabilities(true),
		server.WithHooks(hooks),
	)

	mssqlmcp.RegisterMCPTools(mcpServer, dispatcher)

	if dispatcher.ReadOnly() {
		logger.Info().Msg("read-only mode: write and schema-change tools are not advertised")
	}

	httpPort := v.GetInt("http_port")
	if httpPort <= 0 {
		logger.Info().Msg("starting gomsmcp on stdio")
		return server.ServeStdio(mcpServer)
	}

	// HTTP transport with a process-liveness health endpoint.
	addr := fmt.Sprintf(":%d", httpPort)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	httpSrv := &http.Server{Addr: addr, Handler: mux}
	streamableServer := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
		server.WithStreamableHTTPServer(httpSrv),
	)
	// Start() does not register the MCP handler when a custom *http.Server
	// is supplied, so register it explicitly.
	mux.Handle("/mcp", streamableServer)

	logger.Info().Int("port", httpPort).Msg("starting gomsmcp server")
	return streamableServer.Start(addr)
}

func setupLogger(config mssqlmcp.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch strings.ToLower(config.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	// Logs go to stderr: stdout belongs to the stdio MCP transport.
	var output io.Writer = os.Stderr
	if config.Format == "text" {
		output = zerolog.ConsoleWriter{Out: output}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

func promptPassword(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return ""
	}
	return string(password)
}
