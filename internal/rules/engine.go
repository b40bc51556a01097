package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
)

const defaultLoopLimit = 30

// Engine rewrites recognized transcripts with the substitutions in a rules file.
// The compiled rule set can be swapped at any time with Reload.
type Engine struct {
	path      string
	loopLimit int
	parsers   []LineParser
	rules     atomic.Pointer[[]rewriter]
}

// NewEngine loads path with the default parsers. A blank or missing path yields an
// engine that returns its input unchanged.
func NewEngine(path string, loopLimit int) (*Engine, error) {
	return NewEngineWithParsers(path, loopLimit, DefaultParsers())
}

func NewEngineWithParsers(path string, loopLimit int, parsers []LineParser) (*Engine, error) {
	if loopLimit <= 0 {
		loopLimit = defaultLoopLimit
	}
	if len(parsers) == 0 {
		parsers = DefaultParsers()
	}

	e := &Engine{path: strings.TrimSpace(path), loopLimit: loopLimit, parsers: parsers}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// Path is the rules file backing the engine.
func (e *Engine) Path() string { return e.path }

// Reload recompiles the rules file. On error the previous rules stay active.
func (e *Engine) Reload() error {
	compiled, err := e.load()
	if err != nil {
		return err
	}
	e.rules.Store(&compiled)
	return nil
}

// Len reports how many rules are active.
func (e *Engine) Len() int {
	if rules := e.rules.Load(); rules != nil {
		return len(*rules)
	}
	return 0
}

func (e *Engine) load() ([]rewriter, error) {
	if e.path == "" {
		return nil, nil
	}

	contents, err := os.ReadFile(e.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", e.path, err)
	}

	compiled, err := compileRules(string(contents), e.parsers)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", e.path, err)
	}
	return compiled, nil
}

// Apply runs every rule repeatedly until the text stops changing or the loop limit is hit.
func (e *Engine) Apply(text string) (string, error) {
	loaded := e.rules.Load()
	if loaded == nil || len(*loaded) == 0 {
		return text, nil
	}

	result := text
	for pass := 0; pass < e.loopLimit; pass++ {
		changed := false
		for _, rule := range *loaded {
			if next, ok := rule.Rewrite(result); ok {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return result, nil
}
