package mssqlmcp

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/sqlbridge/mssql-mcp/internal/policy"
)

// statementBuilder is the shared squirrel builder configured for SQL
// Server's @p1-style positional placeholders.
var statementBuilder = sq.StatementBuilder.PlaceholderFormat(sq.AtP)

func (d *Dispatcher) handleReadData(ctx context.Context, conn Conn, args Args) (any, error) {
	query, qargs, err := buildReadQuery(args, d.cfg.MaxRows)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := conn.QueryContext(ctx, query, qargs...)
	if err != nil {
		return nil, err
	}
	out, err := collectRows(rows, d.cfg.MaxRows)
	if err != nil {
		return nil, err
	}
	out.ExecutionTimeMS = float64(time.Since(start).Microseconds()) / 1000
	return out, nil
}

// buildReadQuery assembles a bounded SELECT. The row cap is applied with
// TOP because the statement carries no ORDER BY requirement, which
// OFFSET/FETCH would impose.
func buildReadQuery(args Args, maxRows int) (string, []any, error) {
	table, err := qualifiedTable(args.String("table"))
	if err != nil {
		return "", nil, err
	}

	limit := args.Int("limit", maxRows)
	if limit <= 0 || limit > maxRows {
		limit = maxRows
	}

	columns := []string{"*"}
	if requested := args.StringSlice("columns"); len(requested) > 0 {
		columns = make([]string, len(requested))
		for i, c := range requested {
			q, err := quoteIdentifier(c)
			if err != nil {
				return "", nil, fmt.Errorf("invalid column: %w", err)
			}
			columns[i] = q
		}
	}

	builder := statementBuilder.
		Select(columns...).
		Options(fmt.Sprintf("TOP %d", limit)).
		From(table)

	if where := strings.TrimSpace(args.String("where")); where != "" {
		builder = builder.Where(sq.Expr(where))
	}
	if orderBy := args.String("order_by"); orderBy != "" {
		col, desc := orderBy, false
		if strings.HasSuffix(strings.ToUpper(col), " DESC") {
			col, desc = strings.TrimSpace(col[:len(col)-5]), true
		}
		q, err := quoteIdentifier(col)
		if err != nil {
			return "", nil, fmt.Errorf("invalid order_by: %w", err)
		}
		if desc {
			q += " DESC"
		}
		builder = builder.OrderBy(q)
	}

	return builder.ToSql()
}

func (d *Dispatcher) handleRunQuery(ctx context.Context, conn Conn, args Args) (any, error) {
	query := strings.TrimSpace(args.String("query"))
	if query == "" {
		return nil, fmt.Errorf("query argument is required")
	}

	start := time.Now()

	// Statements that produce no rowset go through Exec so the driver
	// reports affected rows.
	switch policy.LeadingKeyword(query) {
	case "SELECT", "WITH", "DECLARE", "SET", "":
		rows, err := conn.QueryContext(ctx, query)
		if err != nil {
			return nil, err
		}
		out, err := collectRows(rows, d.cfg.MaxRows)
		if err != nil {
			return nil, err
		}
		out.ExecutionTimeMS = float64(time.Since(start).Microseconds()) / 1000
		return out, nil
	default:
		res, err := conn.ExecContext(ctx, query)
		if err != nil {
			return nil, err
		}
		affected, _ := res.RowsAffected()
		return &RowsOutput{
			Columns:         []string{},
			Rows:            []map[string]any{},
			RowsAffected:    affected,
			ExecutionTimeMS: float64(time.Since(start).Microseconds()) / 1000,
		}, nil
	}
}

func (d *Dispatcher) handleInsertData(ctx context.Context, conn Conn, args Args) (any, error) {
	query, qargs, err := buildInsert(args)
	if err != nil {
		return nil, err
	}
	res, err := conn.ExecContext(ctx, query, qargs...)
	if err != nil {
		return nil, err
	}
	affected, _ := res.RowsAffected()
	return &ExecOutput{RowsAffected: affected}, nil
}

func buildInsert(args Args) (string, []any, error) {
	table, err := qualifiedTable(args.String("table"))
	if err != nil {
		return "", nil, err
	}
	values := args.Map("values")
	if len(values) == 0 {
		return "", nil, fmt.Errorf("values argument is required and must be a non-empty object")
	}

	quoted := make(map[string]any, len(values))
	for col, v := range values {
		q, err := quoteIdentifier(col)
		if err != nil {
			return "", nil, fmt.Errorf("invalid column: %w", err)
		}
		quoted[q] = v
	}

	return statementBuilder.Insert(table).SetMap(quoted).ToSql()
}

func (d *Dispatcher) handleUpdateData(ctx context.Context, conn Conn, args Args) (any, error) {
	query, qargs, err := buildUpdate(args)
	if err != nil {
		return nil, err
	}
	res, err := conn.ExecContext(ctx, query, qargs...)
	if err != nil {
		return nil, err
	}
	affected, _ := res.RowsAffected()
	return &ExecOutput{RowsAffected: affected}, nil
}

func buildUpdate(args Args) (string, []any, error) {
	table, err := qualifiedTable(args.String("table"))
	if err != nil {
		return "", nil, err
	}
	set := args.Map("set")
	if len(set) == 0 {
		return "", nil, fmt.Errorf("set argument is required and must be a non-empty object")
	}
	// The policy engine has already required a non-empty predicate; this
	// guards direct library callers that bypass dispatch.
	where := strings.TrimSpace(args.String("where"))
	if where == "" {
		return "", nil, fmt.Errorf("update requires a non-empty where predicate")
	}

	quoted := make(map[string]any, len(set))
	for col, v := range set {
		q, err := quoteIdentifier(col)
		if err != nil {
			return "", nil, fmt.Errorf("invalid column: %w", err)
		}
		quoted[q] = v
	}

	return statementBuilder.Update(table).SetMap(quoted).Where(sq.Expr(where)).ToSql()
}

// collectRows drains a result set into a JSON-friendly RowsOutput, capped
// at maxRows.
func collectRows(rows *sql.Rows, maxRows int) (*RowsOutput, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := &RowsOutput{Columns: columns, Rows: []map[string]any{}}
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() && len(out.Rows) < maxRows {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = convertValue(values[i])
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out.RowCount = len(out.Rows)
	out.RowsAffected = int64(len(out.Rows))
	return out, nil
}

// convertValue maps driver-returned values to JSON-friendly types.
func convertValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case []byte:
		// varbinary, rowversion — base64 encode.
		return base64.StdEncoding.EncodeToString(val)
	default:
		return val
	}
}
