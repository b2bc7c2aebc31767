package trigger

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Rule is one configured automation trigger: when an entity matching
// EntityPattern changes to a state accepted by StateFilter, content is
// regenerated, subject to the per-rule debounce window.
type Rule struct {
	// Name uniquely identifies the rule and keys its debounce state.
	Name string `yaml:"name" json:"name"`
	// EntityPattern is an exact entity id, a glob (contains * or ?), or a
	// regex written /body/flags.
	EntityPattern string `yaml:"entity_pattern" json:"entity_pattern"`
	// StateFilter lists accepted new states. Empty matches any state.
	StateFilter StateFilter `yaml:"state_filter,omitempty" json:"state_filter,omitempty"`
	// DebounceSeconds suppresses repeat fires of this rule inside the
	// window. Zero or absent disables debouncing.
	DebounceSeconds float64 `yaml:"debounce_seconds,omitempty" json:"debounce_seconds,omitempty"`
}

// MatchResult is the outcome of evaluating one state change.
type MatchResult struct {
	Matched   bool
	Trigger   *Rule
	Debounced bool
}

// compiledRule carries the pattern compiled at load time. Patterns are
// compiled exactly once, at construction or update, never per match call.
type compiledRule struct {
	rule  Rule
	re    *regexp.Regexp
	exact string // used when re is nil
}

func (c *compiledRule) matchEntity(entityID string) bool {
	if c.re != nil {
		return c.re.MatchString(entityID)
	}
	return c.exact == entityID
}

func (c *compiledRule) matchState(newState string) bool {
	if len(c.rule.StateFilter) == 0 {
		return true
	}
	for _, s := range c.rule.StateFilter {
		if s == newState {
			return true
		}
	}
	return false
}

// Matcher evaluates state changes against the configured rule set.
// First match wins: rules are checked in configured order and evaluation
// stops at the first rule whose entity pattern and state filter both match.
//
// The debounce map is guarded by a single mutex so two overlapping Match
// calls can never both observe "not debounced" for the same rule name.
type Matcher struct {
	mu       sync.Mutex
	rules    []compiledRule
	lastFire map[string]time.Time
	now      func() time.Time
}

// NewMatcher compiles rules and returns a ready Matcher. Invalid regex
// patterns and duplicate rule names are configuration errors reported here,
// never deferred to match time. now is injectable for tests; nil means
// time.Now.
func NewMatcher(rules []Rule, now func() time.Time) (*Matcher, error) {
	if now == nil {
		now = time.Now
	}
	compiled, err := compileAll(rules)
	if err != nil {
		return nil, err
	}
	return &Matcher{
		rules:    compiled,
		lastFire: make(map[string]time.Time),
		now:      now,
	}, nil
}

// Match evaluates an entity state change. When the winning rule is not
// debounced, the fire time is recorded before returning; a debounced call
// leaves the original fire time standing, so the window does not slide on
// rejected attempts.
func (m *Matcher) Match(entityID, newState string) MatchResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.rules {
		cr := &m.rules[i]
		if !cr.matchEntity(entityID) || !cr.matchState(newState) {
			continue
		}

		rule := cr.rule
		res := MatchResult{Matched: true, Trigger: &rule}
		if rule.DebounceSeconds > 0 {
			if last, ok := m.lastFire[rule.Name]; ok {
				elapsed := m.now().Sub(last).Seconds()
				if elapsed < rule.DebounceSeconds {
					res.Debounced = true
					return res
				}
			}
		}
		m.lastFire[rule.Name] = m.now()
		return res
	}
	return MatchResult{}
}

// UpdateTriggers atomically replaces the rule set. The whole update fails
// if any new pattern is invalid; no partial set is ever applied. Debounce
// state is retained for rule names present in both sets and purged for
// names that disappeared.
func (m *Matcher) UpdateTriggers(rules []Rule) error {
	compiled, err := compileAll(rules)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	keep := make(map[string]struct{}, len(compiled))
	for i := range compiled {
		keep[compiled[i].rule.Name] = struct{}{}
	}
	for name := range m.lastFire {
		if _, ok := keep[name]; !ok {
			delete(m.lastFire, name)
		}
	}
	m.rules = compiled
	slog.Info("trigger: rules updated", "count", len(compiled))
	return nil
}

// Cleanup discards all debounce state. Safe to call repeatedly; the rule
// set itself is untouched.
func (m *Matcher) Cleanup() {
	m.mu.Lock()
	m.lastFire = make(map[string]time.Time)
	m.mu.Unlock()
}

// Rules returns a copy of the active rule set.
func (m *Matcher) Rules() []Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Rule, len(m.rules))
	for i := range m.rules {
		out[i] = m.rules[i].rule
	}
	return out
}

func compileAll(rules []Rule) ([]compiledRule, error) {
	compiled := make([]compiledRule, 0, len(rules))
	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if r.Name == "" {
			return nil, fmt.Errorf("trigger rule with empty name")
		}
		if _, dup := seen[r.Name]; dup {
			return nil, fmt.Errorf("duplicate trigger name %q", r.Name)
		}
		seen[r.Name] = struct{}{}
		if r.DebounceSeconds < 0 {
			return nil, fmt.Errorf("trigger %q: negative debounce_seconds", r.Name)
		}
		cr, err := compile(r)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, cr)
	}
	return compiled, nil
}

// compile resolves the pattern form. Precedence: regex (/body/flags), then
// glob (* or ?), then exact string equality.
func compile(r Rule) (compiledRule, error) {
	p := r.EntityPattern
	if body, flags, ok := regexShaped(p); ok {
		for _, f := range flags {
			switch f {
			case 'i', 'm', 's', 'U':
			default:
				return compiledRule{}, fmt.Errorf("trigger %q: unsupported regex flag %q in %q", r.Name, string(f), p)
			}
		}
		expr := body
		if flags != "" {
			expr = "(?" + flags + ")" + body
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return compiledRule{}, fmt.Errorf("trigger %q: invalid regex pattern %q: %w", r.Name, p, err)
		}
		return compiledRule{rule: r, re: re}, nil
	}
	if strings.ContainsAny(p, "*?") {
		return compiledRule{rule: r, re: globToRegexp(p)}, nil
	}
	return compiledRule{rule: r, exact: p}, nil
}

// regexShaped reports whether pattern is of the form /body/flags and splits
// it. Flag validity is checked by the caller so a bad flag surfaces as a
// load error rather than falling through to glob or exact matching.
func regexShaped(pattern string) (body, flags string, ok bool) {
	if len(pattern) < 2 || !strings.HasPrefix(pattern, "/") {
		return "", "", false
	}
	end := strings.LastIndex(pattern[1:], "/")
	if end < 0 {
		return "", "", false
	}
	end++ // index into pattern
	return pattern[1:end], pattern[end+1:], true
}

// globToRegexp translates a glob into an anchored regex: * matches any run
// of characters, ? exactly one. Compiled output never fails.
func globToRegexp(glob string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}
