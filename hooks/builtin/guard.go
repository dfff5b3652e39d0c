package builtin

import (
	"context"
	"fmt"
	"regexp"

	"github.com/rickchristie/relay"
)

// -----------------------------------------------------------------------------
// command_guard
// -----------------------------------------------------------------------------

// Rule is one pattern a handler looks for.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

var defaultCommandRules = []Rule{
	{"recursive delete of / or home", regexp.MustCompile(`\brm\s+-[a-zA-Z]*[rR][a-zA-Z]*\s+(/|~|\$HOME)\*?(\s|$)`)},
	{"force push", regexp.MustCompile(`\bgit\s+push\b.*(--force(\s|$)|\s-f(\s|$))`)},
	{"fork bomb", regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`)},
	{"filesystem format", regexp.MustCompile(`\bmkfs(\.\w+)?\s`)},
	{"raw device write", regexp.MustCompile(`\bdd\s+.*\bof=/dev/`)},
	{"download piped to shell", regexp.MustCompile(`\b(curl|wget)\s+[^|]*\|\s*(sudo\s+)?(ba|z)?sh\b`)},
	{"world-writable root", regexp.MustCompile(`\bchmod\s+(-R\s+)?777\s+/(\s|$)`)},
}

// CommandGuard denies shell commands matching any rule. It reads the command
// from data.tool_input.command.
type CommandGuard struct {
	Rules []Rule
}

// NewCommandGuard returns a guard with the default rules.
func NewCommandGuard() *CommandGuard {
	return &CommandGuard{Rules: defaultCommandRules}
}

// WithRule adds a rule and returns g.
func (g *CommandGuard) WithRule(name, pattern string) (*CommandGuard, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling rule %q: %w", name, err)
	}
	rules := make([]Rule, 0, len(g.Rules)+1)
	rules = append(rules, g.Rules...)
	g.Rules = append(rules, Rule{Name: name, Pattern: re})
	return g, nil
}

func (g *CommandGuard) Handle(_ context.Context, p relay.HookPayload) (relay.HookResult, error) {
	input := p.DataMap("tool_input")
	if input == nil {
		return relay.Allowed(), nil
	}
	command, _ := input["command"].(string)
	if command == "" {
		return relay.Allowed(), nil
	}
	for _, rule := range g.Rules {
		if rule.Pattern.MatchString(command) {
			return relay.Deny("command blocked: " + rule.Name), nil
		}
	}
	return relay.Allowed(), nil
}

// -----------------------------------------------------------------------------
// secret_redact
// -----------------------------------------------------------------------------

// Redacted replaces every secret found.
const Redacted = "[REDACTED]"

type secretRule struct {
	Pattern *regexp.Regexp
	Replace string
}

var defaultSecretRules = []secretRule{
	{regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`), Redacted},
	{regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), Redacted},
	{regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`), Redacted},
	{regexp.MustCompile(`\bxox[abprs]-[A-Za-z0-9-]{10,}`), Redacted},
	{regexp.MustCompile(`(?i)\b(api[_-]?key|secret|token|password)(\s*[:=]\s*)['"]?[^\s'"\[][^\s'"]{7,}['"]?`), "${1}${2}" + Redacted},
}

// SecretRedactor rewrites data.prompt with API-key-like tokens masked.
type SecretRedactor struct {
	rules []secretRule
}

// NewSecretRedactor returns a redactor with the default patterns.
func NewSecretRedactor() *SecretRedactor {
	return &SecretRedactor{rules: defaultSecretRules}
}

// Redact returns text with secrets masked and how many were found.
func (r *SecretRedactor) Redact(text string) (string, int) {
	count := 0
	for _, rule := range r.rules {
		n := len(rule.Pattern.FindAllStringIndex(text, -1))
		if n == 0 {
			continue
		}
		count += n
		text = rule.Pattern.ReplaceAllString(text, rule.Replace)
	}
	return text, count
}

func (r *SecretRedactor) Handle(_ context.Context, p relay.HookPayload) (relay.HookResult, error) {
	prompt := p.DataString("prompt")
	if prompt == "" {
		return relay.Allowed(), nil
	}
	redacted, n := r.Redact(prompt)
	if n == 0 {
		return relay.Allowed(), nil
	}
	return relay.Allowed().
		WithMutation("prompt", redacted).
		WithNote(fmt.Sprintf("redacted %d secret(s) from prompt", n)), nil
}

var (
	_ relay.Handler = (*CommandGuard)(nil)
	_ relay.Handler = (*SecretRedactor)(nil)
)
