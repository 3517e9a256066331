package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrUnstable is returned when the rules keep rewriting past the iteration limit,
// which usually means two rules undo each other.
var ErrUnstable = errors.New("compose rules did not settle")

// Options locates and bounds a rule set.
type Options struct {
	// Path is a rules file; a missing file yields no rules.
	Path string
	// Inline rules come from the config file and run after the file's rules.
	Inline         []string
	IterationLimit int
	Parsers        []Parser
}

// Composer rewrites outgoing chat text with shortcut and regex rules.
type Composer struct {
	rules []rule
	limit int
}

func NewComposer(opts Options) (*Composer, error) {
	if opts.IterationLimit <= 0 {
		opts.IterationLimit = 30
	}
	if len(opts.Parsers) == 0 {
		opts.Parsers = DefaultParsers()
	}

	var compiled []rule
	if path := strings.TrimSpace(opts.Path); path != "" {
		contents, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read rules file %q: %w", path, err)
		default:
			fileRules, err := parseLines(strings.Split(string(contents), "\n"), opts.Parsers)
			if err != nil {
				return nil, fmt.Errorf("rules file %q: %w", path, err)
			}
			compiled = append(compiled, fileRules...)
		}
	}

	inline, err := parseLines(opts.Inline, opts.Parsers)
	if err != nil {
		return nil, fmt.Errorf("inline rules: %w", err)
	}
	compiled = append(compiled, inline...)

	return &Composer{rules: compiled, limit: opts.IterationLimit}, nil
}

// Len is the number of loaded rules.
func (c *Composer) Len() int {
	return len(c.rules)
}

// Apply runs every rule in order until a full pass changes nothing.
func (c *Composer) Apply(text string) (string, error) {
	if len(c.rules) == 0 {
		return text, nil
	}

	current := text
	for pass := 0; pass < c.limit; pass++ {
		changed := false
		for _, r := range c.rules {
			if next, ok := r.Apply(current); ok {
				current = next
				changed = true
			}
		}
		if !changed {
			return current, nil
		}
	}
	return text, fmt.Errorf("%w after %d passes", ErrUnstable, c.limit)
}

func parseLines(lines []string, parsers []Parser) ([]rule, error) {
	out := make([]rule, 0, len(lines))
	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var parser Parser
		for _, candidate := range parsers {
			if candidate.CanParse(line) {
				parser = candidate
				break
			}
		}
		if parser == nil {
			return nil, fmt.Errorf("line %d: unsupported rule format", index+1)
		}
		r, err := parser.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		out = append(out, r)
	}
	return out, nil
}
