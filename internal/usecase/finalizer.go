package usecase

import (
	"strings"

	"voxdeck/internal/domain"
	"voxdeck/internal/ports"
)

type transcriptFinalizer struct {
	rules  ports.RulesEngine
	events ports.EventSink
}

func newTranscriptFinalizer(rules ports.RulesEngine, events ports.EventSink) transcriptFinalizer {
	return transcriptFinalizer{rules: rules, events: events}
}

// Finalize lowercases raw and applies the phrase rules. On a rules failure
// the lowercased transcript is still returned alongside the error.
func (f transcriptFinalizer) Finalize(raw string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if f.rules == nil {
		f.events.FinalTranscript(raw, normalized)
		return normalized, nil
	}

	transformed, err := f.rules.Apply(normalized)
	if err != nil {
		f.events.SessionError(domain.ErrorCodeRules, err.Error())
		f.events.FinalTranscript(raw, normalized)
		return normalized, err
	}

	transformed = strings.ToLower(strings.TrimSpace(transformed))
	f.events.FinalTranscript(raw, transformed)
	return transformed, nil
}
