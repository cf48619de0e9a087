package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNotStable is returned when rules keep rewriting each other past the
// iteration limit.
var ErrNotStable = errors.New("phrase rules did not settle")

// builtinRules fold common mis-hearings into the canonical command phrases.
// File rules run before these.
var builtinRules = []string{
	`s/\bstop (the |playing (the )?)?(music|song|sound)s?\b/stop music/g`,
	`s/\bstop (the )?stream(ing)?\b/stop stream/g`,
	`s/\bplay (the )?intro(duction)?\b/play intro/g`,
	`s/\bspeaker tests\b/speaker test/g`,
	`good bye => goodbye`,
}

// Engine rewrites transcripts into canonical phrases before command and
// interrupt matching.
type Engine struct {
	rules     []compiledRule
	loopLimit int
}

// NewEngine loads the rules file at path on top of the built-in phrase rules.
// A missing file is not an error.
func NewEngine(path string, loopLimit int) (*Engine, error) {
	return NewEngineWithParsers(path, loopLimit, defaultRuleParsers())
}

// NewEngineWithParsers allows parser extension without engine changes.
func NewEngineWithParsers(path string, loopLimit int, parsers []RuleParser) (*Engine, error) {
	if loopLimit <= 0 {
		loopLimit = 30
	}
	if len(parsers) == 0 {
		parsers = defaultRuleParsers()
	}

	builtin, err := parseRules(strings.Join(builtinRules, "\n"), defaultRuleParsers())
	if err != nil {
		return nil, fmt.Errorf("built-in phrase rules: %w", err)
	}
	engine := &Engine{loopLimit: loopLimit}

	if strings.TrimSpace(path) != "" {
		contents, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read phrase rules %q: %w", path, err)
		default:
			fileRules, err := parseRules(string(contents), parsers)
			if err != nil {
				return nil, fmt.Errorf("parse phrase rules %q: %w", path, err)
			}
			engine.rules = fileRules
		}
	}

	engine.rules = append(engine.rules, builtin...)
	return engine, nil
}

// Len reports how many rules are loaded, built-ins included.
func (e *Engine) Len() int { return len(e.rules) }

// Apply rewrites text until no rule changes it, then collapses whitespace.
// When the limit is hit the partially rewritten text is returned with
// ErrNotStable.
func (e *Engine) Apply(text string) (string, error) {
	result := text
	for i := 0; i < e.loopLimit; i++ {
		changed := false
		for _, rule := range e.rules {
			if next, ok := rule.Apply(result); ok {
				result = next
				changed = true
			}
		}
		if !changed {
			return collapseSpaces(result), nil
		}
	}
	return collapseSpaces(result), fmt.Errorf("%w after %d passes", ErrNotStable, e.loopLimit)
}

func collapseSpaces(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
