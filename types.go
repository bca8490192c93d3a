package mssqlmcp

import (
	"fmt"
	"strings"

	"github.com/sqlbridge/mssql-mcp/internal/policy"
)

// Kind classifies an operation's risk class. It mirrors the policy
// package's classification so the registry stays the single source of truth.
type Kind int

const (
	Read Kind = iota
	Write
	SchemaChange
	RawQuery
)

func (k Kind) String() string {
	switch k {
	case Read:
		return "read"
	case Write:
		return "write"
	case SchemaChange:
		return "schema_change"
	case RawQuery:
		return "raw_query"
	default:
		return "unknown"
	}
}

func (k Kind) policyKind() policy.Kind {
	switch k {
	case Write:
		return policy.KindWrite
	case SchemaChange:
		return policy.KindSchemaChange
	case RawQuery:
		return policy.KindRawQuery
	default:
		return policy.KindRead
	}
}

// OperationSpec is the static metadata for one externally callable
// operation. Registered once at startup and immutable thereafter.
type OperationSpec struct {
	Name                string
	Kind                Kind
	RequiresWhere       bool
	AllowedWhenReadOnly bool
	Description         string
}

// ErrorKind identifies the failure class of an unsuccessful dispatch.
type ErrorKind string

const (
	ErrUnknownOperation ErrorKind = "unknown_operation"
	ErrAuth             ErrorKind = "auth_error"
	ErrConnection       ErrorKind = "connection_error"
	ErrPolicyViolation  ErrorKind = "policy_violation"
	ErrExecution        ErrorKind = "execution_error"
	ErrTimeout          ErrorKind = "timeout"
)

// Request is the dispatch input: an operation name plus structured arguments.
type Request struct {
	Operation string `json:"operation"`
	Args      Args   `json:"args"`
}

// Response is the uniform dispatch envelope. A response carries either a
// payload or an error kind/message pair, never both.
type Response struct {
	Success      bool      `json:"success"`
	Payload      any       `json:"payload,omitempty"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

func okResponse(payload any) *Response {
	return &Response{Success: true, Payload: payload}
}

func errResponse(kind ErrorKind, message string) *Response {
	return &Response{Success: false, ErrorKind: kind, ErrorMessage: message}
}

// Args is the structured argument map of one request.
type Args map[string]any

// String returns the named argument as a string, or "" when absent or not
// a string.
func (a Args) String(key string) string {
	v, ok := a[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Int returns the named argument coerced to int; JSON numbers arrive as
// float64. Returns def when absent or not numeric.
func (a Args) Int(key string, def int) int {
	switch v := a[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// Map returns the named argument as a nested map, or nil.
func (a Args) Map(key string) map[string]any {
	m, _ := a[key].(map[string]any)
	return m
}

// StringSlice returns the named argument as a slice of strings; JSON arrays
// arrive as []any. Non-string elements are skipped.
func (a Args) StringSlice(key string) []string {
	raw, ok := a[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// --- Tool payload types ---

// ConnectOutput is the payload of the connect operation.
type ConnectOutput struct {
	Server    string `json:"server"`
	Database  string `json:"database"`
	Version   string `json:"version"`
	Connected bool   `json:"connected"`
}

// DatabaseEntry is one row of the list_databases payload.
type DatabaseEntry struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// ListDatabasesOutput is the payload of the list_databases operation.
type ListDatabasesOutput struct {
	Databases []DatabaseEntry `json:"databases"`
}

// TableEntry is one row of the list_tables payload.
type TableEntry struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
	Type   string `json:"type"` // "table" or "view"
}

// ListTablesOutput is the payload of the list_tables operation.
type ListTablesOutput struct {
	Tables []TableEntry `json:"tables"`
}

// ColumnInfo describes a single column of a table.
type ColumnInfo struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Nullable     bool   `json:"nullable"`
	MaxLength    int64  `json:"max_length,omitempty"`
	Precision    int64  `json:"precision,omitempty"`
	Scale        int64  `json:"scale,omitempty"`
	Default      string `json:"default,omitempty"`
	IsPrimaryKey bool   `json:"is_primary_key"`
}

// ForeignKeyInfo describes a single foreign key.
type ForeignKeyInfo struct {
	Name             string `json:"name"`
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// DescribeTableOutput is the payload of the describe_table operation.
type DescribeTableOutput struct {
	Schema      string           `json:"schema"`
	Name        string           `json:"name"`
	Columns     []ColumnInfo     `json:"columns"`
	ForeignKeys []ForeignKeyInfo `json:"foreign_keys"`
}

// RowsOutput is the payload of run_query and read_data.
type RowsOutput struct {
	Columns         []string         `json:"columns"`
	Rows            []map[string]any `json:"rows"`
	RowCount        int              `json:"row_count"`
	RowsAffected    int64            `json:"rows_affected"`
	ExecutionTimeMS float64          `json:"execution_time_ms"`
}

// ExecOutput is the payload of write and schema-change operations.
type ExecOutput struct {
	RowsAffected int64  `json:"rows_affected"`
	Statement    string `json:"statement,omitempty"`
}

// qualifiedTable validates and bracket-quotes an optionally schema-qualified
// table name. SQL Server identifiers are quoted with brackets; validation
// keeps user input out of the identifier position entirely.
func qualifiedTable(name string) (string, error) {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("invalid table name %q: at most one schema qualifier", name)
	}
	quoted := make([]string, len(parts))
	for i, p := range parts {
		q, err := quoteIdentifier(p)
		if err != nil {
			return "", fmt.Errorf("invalid table name %q: %w", name, err)
		}
		quoted[i] = q
	}
	return strings.Join(quoted, "."), nil
}

// quoteIdentifier validates a bare identifier and wraps it in brackets.
func quoteIdentifier(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("empty identifier")
	}
	for _, r := range s {
		ok := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_'
		if !ok {
			return "", fmt.Errorf("identifier %q contains disallowed character %q", s, r)
		}
	}
	if s[0] >= '0' && s[0] <= '9' {
		return "", fmt.Errorf("identifier %q must not start with a digit", s)
	}
	return "[" + s + "]", nil
}
