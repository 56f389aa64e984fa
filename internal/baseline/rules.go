// Package baseline holds the table of command-log lines known to be produced
// by the inspection tooling itself.
package baseline

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// TmpCommands is where the orchestrator uploads the command script it runs
	// inside the VM. It must match the orchestrator's value exactly.
	TmpCommands = "/tmp/vagrantCommands.sh"
	// DiffScript stands in for the inline ruby the orchestrator runs to list
	// evidence files missing from the /backup snapshot. The orchestrator owns
	// the exact text; override the diff_cmd rule variable when it differs.
	DiffScript = `'puts File.readlines("/tmp/evidence-files.txt").map { |f| f.strip }.reject { |f| File.exist?("/backup" + f) }'`
)

//go:embed default_rules.yaml
var defaultRules []byte

// Rule is one row of the baseline table. Exactly one of Pattern or Literal is set.
// Pattern may reference {{name}} placeholders, resolved first from Literals and
// then from the set variables; the value always matches literally.
type Rule struct {
	Name     string            `yaml:"name"`
	Pattern  string            `yaml:"pattern"`
	Literal  string            `yaml:"literal"`
	Literals map[string]string `yaml:"literals"`
}

type Set struct {
	items []compiled
}

type compiled struct {
	name    string
	re      *regexp.Regexp
	literal string
}

func (c compiled) match(line string) bool {
	if c.re != nil {
		return c.re.MatchString(line)
	}
	return strings.TrimSuffix(line, "\n") == c.literal
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// DefaultVars are the shared values the default table refers to.
func DefaultVars() map[string]string {
	return map[string]string{
		"tmp_cmds": TmpCommands,
		"diff_cmd": strings.ReplaceAll("ruby -e "+DiffScript, "'", ""),
	}
}

func Compile(rules []Rule, vars map[string]string) (*Set, error) {
	out := &Set{}
	for i, r := range rules {
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i)
		}
		switch {
		case r.Pattern != "" && r.Literal != "":
			return nil, fmt.Errorf("rule %q: pattern and literal are exclusive", name)
		case r.Literal != "":
			out.items = append(out.items, compiled{name: name, literal: strings.TrimSuffix(r.Literal, "\n")})
		case r.Pattern != "":
			expr, err := expand(r.Pattern, r.Literals, vars)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %w", name, err)
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %w", name, err)
			}
			out.items = append(out.items, compiled{name: name, re: re})
		default:
			return nil, fmt.Errorf("rule %q: empty", name)
		}
	}
	return out, nil
}

func expand(pattern string, scopes ...map[string]string) (string, error) {
	var missing string
	expr := placeholder.ReplaceAllStringFunc(pattern, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		for _, s := range scopes {
			if v, ok := s[key]; ok {
				return regexp.QuoteMeta(v)
			}
		}
		if missing == "" {
			missing = key
		}
		return m
	})
	if missing != "" {
		return "", fmt.Errorf("unknown placeholder %q", missing)
	}
	return expr, nil
}

func Parse(b []byte, vars map[string]string) (*Set, error) {
	var raw []Rule
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	return Compile(raw, vars)
}

// Default compiles the embedded table. Extra vars override DefaultVars.
func Default(vars map[string]string) (*Set, error) {
	return Parse(defaultRules, merge(DefaultVars(), vars))
}

// Load reads a rules file; an empty path falls back to the embedded table.
func Load(path string, vars map[string]string) (*Set, error) {
	if path == "" {
		return Default(vars)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b, merge(DefaultVars(), vars))
}

func merge(a, b map[string]string) map[string]string {
	out := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func (s *Set) Len() int { return len(s.items) }

func (s *Set) Names() []string {
	out := make([]string, 0, len(s.items))
	for _, c := range s.items {
		out = append(out, c.name)
	}
	return out
}

func (s *Set) Match(line string) (matched bool, ruleName string) {
	for _, c := range s.items {
		if c.match(line) {
			return true, c.name
		}
	}
	return false, ""
}

// Filter removes every line matched by any rule. Each rule drops the values it
// matches from what is left, so the outcome does not depend on rule order.
func (s *Set) Filter(lines []string) []string {
	out := append([]string(nil), lines...)
	for _, c := range s.items {
		hit := map[string]struct{}{}
		for _, l := range out {
			if c.match(l) {
				hit[l] = struct{}{}
			}
		}
		if len(hit) == 0 {
			continue
		}
		kept := out[:0]
		for _, l := range out {
			if _, ok := hit[l]; !ok {
				kept = append(kept, l)
			}
		}
		out = kept
	}
	return out
}
