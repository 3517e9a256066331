package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type rule interface {
	Apply(input string) (output string, changed bool)
}

// Parser compiles one rule line. Parsers are tried in order.
type Parser interface {
	CanParse(line string) bool
	Parse(line string) (rule, error)
}

// DefaultParsers understands `s/pattern/replacement/flags` and `short => long`.
func DefaultParsers() []Parser {
	return []Parser{regexParser{}, shortcutParser{}}
}

type shortcutParser struct{}

func (shortcutParser) CanParse(line string) bool {
	return strings.Contains(line, "=>")
}

// Parse builds a case-insensitive whole-word shortcut, so "brb => be right
// back" leaves "brbq" alone.
func (shortcutParser) Parse(line string) (rule, error) {
	from, to, _ := strings.Cut(line, "=>")
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" {
		return nil, errors.New("shortcut cannot be empty")
	}

	pattern := regexp.QuoteMeta(from)
	if isWordByte(from[0]) {
		pattern = `\b` + pattern
	}
	if isWordByte(from[len(from)-1]) {
		pattern += `\b`
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid shortcut: %w", err)
	}
	return regexRule{re: re, replacement: literalReplacement(to), global: true}, nil
}

type regexParser struct{}

func (regexParser) CanParse(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isWordByte(line[1]) && line[1] != ' ' && line[1] != '\t'
}

func (regexParser) Parse(line string) (rule, error) {
	delim := line[1]

	pattern, pos, err := readDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, pos, err := readDelimited(line, pos, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}

	ignoreCase, global := true, false
	var extra string
	for _, flag := range strings.TrimSpace(line[pos:]) {
		switch flag {
		case 'i':
		case 'I':
			ignoreCase = false
		case 'g':
			global = true
		case 'm', 's':
			if !strings.ContainsRune(extra, flag) {
				extra += string(flag)
			}
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}
	if ignoreCase {
		extra = "i" + extra
	}
	if extra != "" {
		pattern = "(?" + extra + ")" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return regexRule{re: re, replacement: replacement, global: global}, nil
}

type regexRule struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

func (r regexRule) Apply(input string) (string, bool) {
	if r.global {
		output := r.re.ReplaceAllString(input, r.replacement)
		return output, output != input
	}

	loc := r.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input, false
	}
	expanded := r.re.ExpandString(nil, r.replacement, input, loc)
	output := input[:loc[0]] + string(expanded) + input[loc[1]:]
	return output, output != input
}

func readDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}

	var b strings.Builder
	for i := start; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && i+1 < len(line) && line[i+1] == delim:
			b.WriteByte(delim)
			i++
		case c == '\\' && i+1 < len(line):
			b.WriteByte(c)
			b.WriteByte(line[i+1])
			i++
		case c == delim:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, errors.New("unterminated expression")
}

// literalReplacement escapes $ so shortcut expansions are taken verbatim.
func literalReplacement(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}

func isWordByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
