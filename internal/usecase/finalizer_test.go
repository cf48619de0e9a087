package usecase

import (
	"errors"
	"testing"

	"voxdeck/internal/domain"
)

func TestTranscriptFinalizerRulesFailure(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	f := newTranscriptFinalizer(&fakeRules{err: errors.New("rules")}, events)

	got, err := f.Finalize("  Stop Music ")
	if err == nil {
		t.Fatalf("expected rules error")
	}
	if got != "stop music" {
		t.Fatalf("expected lowercased fallback, got %q", got)
	}
	errs := events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeRules {
		t.Fatalf("expected one rules error, got %+v", errs)
	}
}

func TestTranscriptFinalizerAppliesRules(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	f := newTranscriptFinalizer(&fakeRules{transform: "Stop Music"}, events)

	got, err := f.Finalize("stop the music")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "stop music" {
		t.Fatalf("unexpected transcript: %q", got)
	}
	finals := events.snapshotFinals()
	if len(finals) != 1 || finals[0].raw != "stop the music" || finals[0].normalized != "stop music" {
		t.Fatalf("unexpected final events: %+v", finals)
	}
}

func TestTranscriptFinalizerWithoutRules(t *testing.T) {
	t.Parallel()

	f := newTranscriptFinalizer(nil, &fakeEventSink{})
	got, err := f.Finalize("Hello There")
	if err != nil || got != "hello there" {
		t.Fatalf("unexpected result %q, %v", got, err)
	}
}
