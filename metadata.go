package mssqlmcp

import (
	"context"
	"fmt"
	"strings"
)

// handleConnect verifies the connection and reports server identity.
// The pool has already established the handle; this confirms it answers.
func (d *Dispatcher) handleConnect(ctx context.Context, conn Conn, _ Args) (any, error) {
	if err := conn.PingContext(ctx); err != nil {
		return nil, err
	}

	var version string
	rows, err := conn.QueryContext(ctx, "SELECT @@VERSION")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if i := strings.IndexByte(version, '\n'); i > 0 {
		version = strings.TrimSpace(version[:i])
	}

	return &ConnectOutput{
		Server:    d.cfg.Server,
		Database:  d.cfg.Database,
		Version:   version,
		Connected: true,
	}, nil
}

func (d *Dispatcher) handleListDatabases(ctx context.Context, conn Conn, _ Args) (any, error) {
	rows, err := conn.QueryContext(ctx, "SELECT name, state_desc FROM sys.databases ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := &ListDatabasesOutput{Databases: []DatabaseEntry{}}
	for rows.Next() {
		var e DatabaseEntry
		if err := rows.Scan(&e.Name, &e.State); err != nil {
			return nil, err
		}
		out.Databases = append(out.Databases, e)
	}
	return out, rows.Err()
}

func (d *Dispatcher) handleListTables(ctx context.Context, conn Conn, _ Args) (any, error) {
	const q = `
SELECT TABLE_SCHEMA, TABLE_NAME, TABLE_TYPE
FROM INFORMATION_SCHEMA.TABLES
ORDER BY TABLE_SCHEMA, TABLE_NAME`

	rows, err := conn.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := &ListTablesOutput{Tables: []TableEntry{}}
	for rows.Next() {
		var schema, name, typ string
		if err := rows.Scan(&schema, &name, &typ); err != nil {
			return nil, err
		}
		entryType := "table"
		if typ == "VIEW" {
			entryType = "view"
		}
		out.Tables = append(out.Tables, TableEntry{Schema: schema, Name: name, Type: entryType})
	}
	return out, rows.Err()
}

func (d *Dispatcher) handleDescribeTable(ctx context.Context, conn Conn, args Args) (any, error) {
	table := args.String("table")
	if table == "" {
		return nil, fmt.Errorf("table argument is required")
	}
	schema := "dbo"
	if i := strings.IndexByte(table, '.'); i > 0 {
		schema, table = table[:i], table[i+1:]
	}
	if s := args.String("schema"); s != "" {
		schema = s
	}

	out := &DescribeTableOutput{
		Schema:      schema,
		Name:        table,
		Columns:     []ColumnInfo{},
		ForeignKeys: []ForeignKeyInfo{},
	}

	const colQuery = `
SELECT c.COLUMN_NAME,
       c.DATA_TYPE,
       c.IS_NULLABLE,
       ISNULL(c.CHARACTER_MAXIMUM_LENGTH, 0),
       ISNULL(c.NUMERIC_PRECISION, 0),
       ISNULL(c.NUMERIC_SCALE, 0),
       ISNULL(c.COLUMN_DEFAULT, ''),
       CASE WHEN pk.COLUMN_NAME IS NULL THEN 0 ELSE 1 END
FROM INFORMATION_SCHEMA.COLUMNS c
LEFT JOIN (
    SELECT kcu.COLUMN_NAME
    FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
    JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
      ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
     AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
    WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
      AND tc.TABLE_SCHEMA = @p1 AND tc.TABLE_NAME = @p2
) pk ON pk.COLUMN_NAME = c.COLUMN_NAME
WHERE c.TABLE_SCHEMA = @p1 AND c.TABLE_NAME = @p2
ORDER BY c.ORDINAL_POSITION`

	rows, err := conn.QueryContext(ctx, colQuery, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			col      ColumnInfo
			nullable string
			isPK     int
		)
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.MaxLength, &col.Precision, &col.Scale, &col.Default, &isPK); err != nil {
			return nil, err
		}
		col.Nullable = nullable == "YES"
		col.IsPrimaryKey = isPK == 1
		out.Columns = append(out.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out.Columns) == 0 {
		return nil, fmt.Errorf("table %s.%s not found", schema, table)
	}

	const fkQuery = `
SELECT fk.name,
       pc.name,
       SCHEMA_NAME(rt.schema_id) + '.' + rt.name,
       rc.name
FROM sys.foreign_keys fk
JOIN sys.foreign_key_columns fkc ON fkc.constraint_object_id = fk.object_id
JOIN sys.tables pt ON pt.object_id = fk.parent_object_id
JOIN sys.columns pc ON pc.object_id = fkc.parent_object_id AND pc.column_id = fkc.parent_column_id
JOIN sys.tables rt ON rt.object_id = fk.referenced_object_id
JOIN sys.columns rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
WHERE SCHEMA_NAME(pt.schema_id) = @p1 AND pt.name = @p2
ORDER BY fk.name`

	fkRows, err := conn.QueryContext(ctx, fkQuery, schema, table)
	if err != nil {
		return nil, err
	}
	defer fkRows.Close()
	for fkRows.Next() {
		var fk ForeignKeyInfo
		if err := fkRows.Scan(&fk.Name, &fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return nil, err
		}
		out.ForeignKeys = append(out.ForeignKeys, fk)
	}
	return out, fkRows.Err()
}
