// Package timeout resolves per-dispatch deadlines by operation name.
package timeout

import (
	"fmt"
	"regexp"
	"time"
)

// Rule maps an operation-name pattern to a specific deadline.
type Rule struct {
	Pattern string
	Timeout time.Duration
}

// Config is the timeout manager's own config type.
type Config struct {
	DefaultTimeout time.Duration
	Rules          []Rule
}

type compiledRule struct {
	pattern *regexp.Regexp
	timeout time.Duration
}

// Manager resolves dispatch deadlines based on operation name matching.
type Manager struct {
	rules          []compiledRule
	defaultTimeout time.Duration
}

// NewManager creates a new Manager. Returns an error on invalid regex patterns.
func NewManager(config Config) (*Manager, error) {
	compiled := make([]compiledRule, len(config.Rules))
	for i, r := range config.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("timeout: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, timeout: r.Timeout}
	}
	return &Manager{rules: compiled, defaultTimeout: config.DefaultTimeout}, nil
}

// Resolve returns the deadline for the given operation name.
// First matching rule wins. Falls back to the default.
func (m *Manager) Resolve(operation string) time.Duration {
	for _, rule := range m.rules {
		if rule.pattern.MatchString(operation) {
			return rule.timeout
		}
	}
	return m.defaultTimeout
}

// ResolveWithPattern returns the deadline together with the pattern of the
// rule that matched, for structured logging. Pattern is "" on fallback.
func (m *Manager) ResolveWithPattern(operation string) (time.Duration, string) {
	for _, rule := range m.rules {
		if rule.pattern.MatchString(operation) {
			return rule.timeout, rule.pattern.String()
		}
	}
	return m.defaultTimeout, ""
}
