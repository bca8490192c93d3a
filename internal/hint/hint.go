// Package hint maps SQL Server error messages to short guidance appended
// to the error surfaced to the caller, steering the agent toward a fix
// instead of retrying blindly.
package hint

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule is the hint matcher's own rule type.
type Rule struct {
	Pattern string
	Message string
}

type compiledRule struct {
	pattern *regexp.Regexp
	message string
}

// Matcher checks error messages against patterns and returns guidance.
type Matcher struct {
	rules []compiledRule
}

// NewMatcher creates a new Matcher. Returns an error on invalid regex patterns.
func NewMatcher(rules []Rule) (*Matcher, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("hint: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, message: r.Message}
	}
	return &Matcher{rules: compiled}, nil
}

// DefaultRules covers the SQL Server failure modes agents run into most.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: `(?i)login failed`, Message: "Check SQL_USERNAME and SQL_PASSWORD, or unset both to use Entra ID authentication."},
		{Pattern: `(?i)TCP Provider|no such host|connection refused`, Message: "The server is unreachable. Verify SERVER_NAME and any firewall rules."},
		{Pattern: `(?i)invalid object name`, Message: "The table or view does not exist. Use list_tables to see available tables."},
		{Pattern: `(?i)invalid column name`, Message: "Use describe_table to see the table's columns."},
		{Pattern: `(?i)timeout expired|context deadline exceeded`, Message: "The statement exceeded its deadline. Narrow the query or raise QUERY_TIMEOUT."},
		{Pattern: `(?i)certificate`, Message: "TLS verification failed. For development servers set TRUST_SERVER_CERTIFICATE=true."},
	}
}

// Match checks the error message against all rules (top to bottom).
// Returns all matching guidance messages joined with newline separators.
// Returns empty string if no match.
func (m *Matcher) Match(errMsg string) string {
	var matches []string
	for _, rule := range m.rules {
		if rule.pattern.MatchString(errMsg) {
			matches = append(matches, rule.message)
		}
	}
	return strings.Join(matches, "\n")
}

// MatchedPatterns returns the regex patterns that matched the given error
// message, for structured logging. Returns nil if no match.
func (m *Matcher) MatchedPatterns(errMsg string) []string {
	var patterns []string
	for _, rule := range m.rules {
		if rule.pattern.MatchString(errMsg) {
			patterns = append(patterns, rule.pattern.String())
		}
	}
	return patterns
}
