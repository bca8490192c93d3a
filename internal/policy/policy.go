// Package policy implements the safety gate consulted before every
// dispatched database operation. It combines declared operation metadata
// (risk class, read-only eligibility, WHERE requirement) with a lexical
// scan of raw statement text.
//
// The lexical scan is a heuristic last line of defense, not a parser:
// obfuscated statements (dynamic SQL inside stored procedures, string
// concatenation) can slip past it. A least-privilege database role remains
// the primary control.
package policy

import (
	"strings"
)

// Kind classifies an operation's risk class.
type Kind int

const (
	KindRead Kind = iota
	KindWrite
	KindSchemaChange
	KindRawQuery
)

// Input carries everything the engine needs to decide on one request.
// The package deliberately has its own input type so it does not depend
// on the root package's operation registry.
type Input struct {
	Kind                Kind
	RequiresWhere       bool
	AllowedWhenReadOnly bool
	Where               string // predicate argument, if the operation carries one
	Statement           string // raw SQL text, only for KindRawQuery
}

// Decision is the engine's verdict. Reason is set only on denial and is
// written to be actionable for the caller.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// Engine evaluates safety rules for dispatched operations.
// Safe for concurrent use; it holds only immutable configuration.
type Engine struct {
	readOnly bool
}

// NewEngine creates an Engine. readOnly mirrors the process-wide READONLY
// configuration flag.
func NewEngine(readOnly bool) *Engine {
	return &Engine{readOnly: readOnly}
}

// ReadOnly reports whether the engine was configured in read-only mode.
func (e *Engine) ReadOnly() bool {
	return e.readOnly
}

// readOnlyDenylist holds leading keywords that disqualify a raw statement
// in read-only mode. EXECUTE is listed alongside EXEC: T-SQL accepts both
// spellings of the same verb.
var readOnlyDenylist = map[string]bool{
	"INSERT":   true,
	"UPDATE":   true,
	"DELETE":   true,
	"DROP":     true,
	"TRUNCATE": true,
	"ALTER":    true,
	"CREATE":   true,
	"EXEC":     true,
	"EXECUTE":  true,
	"GRANT":    true,
	"REVOKE":   true,
}

// Check evaluates the policy rules in order; the first matching rule wins.
func (e *Engine) Check(in Input) Decision {
	if e.readOnly && !in.AllowedWhenReadOnly {
		return deny("operation disabled in read-only mode")
	}

	if (in.Kind == KindWrite || in.Kind == KindSchemaChange) && in.RequiresWhere {
		if strings.TrimSpace(in.Where) == "" {
			return deny("destructive operation requires an explicit filter condition (non-empty WHERE)")
		}
	}

	if in.Kind == KindRawQuery && e.readOnly {
		keyword := LeadingKeyword(in.Statement)
		if readOnlyDenylist[keyword] {
			return deny("statement type not permitted in read-only mode: " + keyword)
		}
	}

	return allow()
}

// LeadingKeyword returns the first SQL keyword of a statement, uppercased,
// after skipping whitespace, `--` line comments, and `/* */` block comments.
// T-SQL block comments nest, so depth is tracked. Returns "" for statements
// that are empty or all comments.
func LeadingKeyword(sql string) string {
	i := 0
	n := len(sql)
	for i < n {
		switch {
		case sql[i] == ' ' || sql[i] == '\t' || sql[i] == '\r' || sql[i] == '\n':
			i++
		case sql[i] == '-' && i+1 < n && sql[i+1] == '-':
			for i < n && sql[i] != '\n' {
				i++
			}
		case sql[i] == '/' && i+1 < n && sql[i+1] == '*':
			depth := 1
			i += 2
			for i < n && depth > 0 {
				if sql[i] == '/' && i+1 < n && sql[i+1] == '*' {
					depth++
					i += 2
				} else if sql[i] == '*' && i+1 < n && sql[i+1] == '/' {
					depth--
					i += 2
				} else {
					i++
				}
			}
		default:
			start := i
			for i < n && isWordByte(sql[i]) {
				i++
			}
			if i == start {
				// Punctuation where a keyword should be; nothing to classify.
				return ""
			}
			return strings.ToUpper(sql[start:i])
		}
	}
	return ""
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}
