package mssqlmcp

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// columnTypePattern accepts a T-SQL type name with an optional size spec,
// e.g. INT, NVARCHAR(100), DECIMAL(10,2), NVARCHAR(MAX).
var columnTypePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9 ]*(\((\d+(,\s*\d+)?|MAX|max)\))?$`)

func (d *Dispatcher) handleCreateTable(ctx context.Context, conn Conn, args Args) (any, error) {
	stmt, err := buildCreateTable(args)
	if err != nil {
		return nil, err
	}
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return nil, err
	}
	return &ExecOutput{Statement: stmt}, nil
}

// buildCreateTable emits CREATE TABLE DDL from structured column
// definitions. DDL has no placeholder support, so every fragment that
// reaches the statement is validated first.
func buildCreateTable(args Args) (string, error) {
	table, err := qualifiedTable(args.String("table"))
	if err != nil {
		return "", err
	}

	rawColumns, ok := args["columns"].([]any)
	if !ok || len(rawColumns) == 0 {
		return "", fmt.Errorf("columns argument is required and must be a non-empty array")
	}

	defs := make([]string, 0, len(rawColumns))
	for i, raw := range rawColumns {
		col, ok := raw.(map[string]any)
		if !ok {
			return "", fmt.Errorf("column %d: expected an object with name and type", i)
		}
		name, _ := col["name"].(string)
		typ, _ := col["type"].(string)

		quoted, err := quoteIdentifier(name)
		if err != nil {
			return "", fmt.Errorf("column %d: %w", i, err)
		}
		if !columnTypePattern.MatchString(typ) {
			return "", fmt.Errorf("column %q: invalid type %q", name, typ)
		}

		def := quoted + " " + strings.ToUpper(typ)
		if pk, _ := col["primary_key"].(bool); pk {
			def += " PRIMARY KEY"
		} else if nullable, set := col["nullable"].(bool); set && !nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}

	return fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", ")), nil
}

func (d *Dispatcher) handleCreateIndex(ctx context.Context, conn Conn, args Args) (any, error) {
	stmt, err := buildCreateIndex(args)
	if err != nil {
		return nil, err
	}
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return nil, err
	}
	return &ExecOutput{Statement: stmt}, nil
}

func buildCreateIndex(args Args) (string, error) {
	table, err := qualifiedTable(args.String("table"))
	if err != nil {
		return "", err
	}
	indexName, err := quoteIdentifier(args.String("index"))
	if err != nil {
		return "", fmt.Errorf("invalid index name: %w", err)
	}

	columns := args.StringSlice("columns")
	if len(columns) == 0 {
		return "", fmt.Errorf("columns argument is required and must be a non-empty array")
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		q, err := quoteIdentifier(c)
		if err != nil {
			return "", fmt.Errorf("invalid column: %w", err)
		}
		quoted[i] = q
	}

	unique := ""
	if u, _ := args["unique"].(bool); u {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, indexName, table, strings.Join(quoted, ", ")), nil
}

func (d *Dispatcher) handleDropTable(ctx context.Context, conn Conn, args Args) (any, error) {
	table, err := qualifiedTable(args.String("table"))
	if err != nil {
		return nil, err
	}
	stmt := "DROP TABLE " + table
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return nil, err
	}
	return &ExecOutput{Statement: stmt}, nil
}
