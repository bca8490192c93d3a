package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	mssqlmcp "github.com/sqlbridge/mssql-mcp"
)

func runDoctor() error {
	useColor := isTTY(os.Stderr.Fd())
	return doctor(context.Background(), os.Stderr, useColor)
}

func doctor(ctx context.Context, w io.Writer, useColor bool) error {
	printBanner(w, useColor)
	fmt.Fprintf(w, "gomsmcp %s\n\n", version)

	config, ok := doctorValidateEnv(w, useColor)
	if !ok {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Fix the issues above and run 'gomsmcp doctor' again.")
		return nil
	}

	fmt.Fprintln(w)
	doctorProbeConnection(ctx, w, useColor, config)
	return nil
}

// doctorValidateEnv checks the environment configuration, printing one
// check line per requirement. Returns the config and true when all passed.
func doctorValidateEnv(w io.Writer, useColor bool) (mssqlmcp.Config, bool) {
	v := mssqlmcp.NewEnvViper()
	config, err := mssqlmcp.Load(v)
	if err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("environment configuration loads: %v", err))
		return mssqlmcp.Config{}, false
	}
	printCheck(w, useColor, true, fmt.Sprintf("SERVER_NAME is set (%s)", config.Server))
	printCheck(w, useColor, true, fmt.Sprintf("DATABASE_NAME is set (%s)", config.Database))

	mode := config.AuthMode()
	printCheck(w, useColor, true, fmt.Sprintf("authentication mode: %s", mode))
	if mode == mssqlmcp.AuthStaticPassword && config.Password == "" {
		printCheck(w, useColor, false, "SQL_PASSWORD is set (required with SQL_USERNAME)")
		return config, false
	}

	if config.ReadOnly {
		printCheck(w, useColor, true, "READONLY=true: write and schema-change tools disabled")
	}
	return config, true
}

// doctorProbeConnection acquires a credential, opens a connection, and runs
// the canonical probe statement.
func doctorProbeConnection(ctx context.Context, w io.Writer, useColor bool, config mssqlmcp.Config) {
	provider, err := mssqlmcp.NewCredentialProvider(config)
	if err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("credential provider: %v", err))
		return
	}

	pool := mssqlmcp.NewPool(config, provider, zerolog.Nop())
	defer pool.Close()

	conn, err := pool.Ensure(ctx)
	if err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("database connection: %v", err))
		return
	}
	printCheck(w, useColor, true, "database connection established")

	rows, err := conn.QueryContext(ctx, "SELECT 1 AS test")
	if err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("probe query (SELECT 1): %v", err))
		return
	}
	defer rows.Close()
	var got int
	if rows.Next() {
		_ = rows.Scan(&got)
	}
	printCheck(w, useColor, got == 1, "probe query (SELECT 1) returned 1")
}

// printCheck prints one pass/fail line, colorized when the terminal
// supports it.
func printCheck(w io.Writer, useColor bool, ok bool, msg string) {
	mark := "FAIL"
	if ok {
		mark = " OK "
	}
	if useColor {
		color := "\033[1;31m" // bold red
		if ok {
			color = "\033[1;32m" // bold green
		}
		fmt.Fprintf(w, "[%s%s\033[0m] %s\n", color, mark, msg)
		return
	}
	fmt.Fprintf(w, "[%s] %s\n", mark, msg)
}
