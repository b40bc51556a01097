package rules

import (
	"bufio"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// rewriter is one compiled substitution.
type rewriter interface {
	Rewrite(input string) (output string, changed bool)
}

// LineParser compiles one rules-file line. Parsers are tried in order.
type LineParser interface {
	Accepts(line string) bool
	Compile(line string) (rewriter, error)
}

// DefaultParsers understands sed-style "s/pattern/replacement/flags" and "phrase => replacement".
func DefaultParsers() []LineParser {
	return []LineParser{sedParser{}, phraseParser{}}
}

func compileRules(contents string, parsers []LineParser) ([]rewriter, error) {
	var compiled []rewriter

	scanner := bufio.NewScanner(strings.NewReader(contents))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rule, err := compileLine(line, parsers)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		compiled = append(compiled, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return compiled, nil
}

func compileLine(line string, parsers []LineParser) (rewriter, error) {
	for _, parser := range parsers {
		if parser.Accepts(line) {
			return parser.Compile(line)
		}
	}
	return nil, errors.New("unsupported rule format")
}

// phraseParser replaces a phrase case-insensitively wherever it occurs.
type phraseParser struct{}

func (phraseParser) Accepts(line string) bool {
	return strings.Contains(line, "=>")
}

func (phraseParser) Compile(line string) (rewriter, error) {
	from, to, _ := strings.Cut(line, "=>")
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, errors.New("phrase rule source cannot be empty")
	}
	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(from))
	if err != nil {
		return nil, fmt.Errorf("invalid phrase: %w", err)
	}
	return patternRewriter{re: re, replacement: strings.TrimSpace(to), global: true}, nil
}

// sedParser handles s<d>pattern<d>replacement<d>flags with any non-alphanumeric delimiter.
// Patterns are case-insensitive unless stated otherwise; only the first match is replaced
// without the g flag.
type sedParser struct{}

func (sedParser) Accepts(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isWordByte(line[1])
}

func (sedParser) Compile(line string) (rewriter, error) {
	delim := line[1]

	pattern, next, err := readDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, next, err := readDelimited(line, next, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}

	global := false
	inline := map[rune]bool{'i': true}
	for _, flag := range strings.TrimSpace(line[next:]) {
		switch flag {
		case 'g':
			global = true
		case 'i', 'm', 's':
			inline[flag] = true
		case ' ':
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	var prefix strings.Builder
	for _, flag := range []rune{'i', 'm', 's'} {
		if inline[flag] {
			prefix.WriteRune(flag)
		}
	}
	re, err := regexp.Compile("(?" + prefix.String() + ")" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return patternRewriter{re: re, replacement: replacement, global: global}, nil
}

type patternRewriter struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

func (r patternRewriter) Rewrite(input string) (string, bool) {
	if r.global {
		output := r.re.ReplaceAllString(input, r.replacement)
		return output, output != input
	}

	loc := r.re.FindStringIndex(input)
	if loc == nil {
		return input, false
	}
	replaced := r.re.ReplaceAllString(input[loc[0]:loc[1]], r.replacement)
	output := input[:loc[0]] + replaced + input[loc[1]:]
	return output, output != input
}

// readDelimited returns the text up to the next unescaped delim and the index after it.
// Escapes are kept so the regexp engine sees them.
func readDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}

	escaped := false
	for i := start; i < len(line); i++ {
		switch {
		case escaped:
			escaped = false
		case line[i] == '\\':
			escaped = true
		case line[i] == delim:
			return line[start:i], i + 1, nil
		}
	}
	return "", 0, errors.New("unterminated expression")
}

func isWordByte(c byte) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == ' ' || c == '\t'
}
