package response

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"voxdeck/internal/domain"
)

type fakeProvider struct {
	name  string
	text  string
	err   error
	delay time.Duration
	panic bool
	calls atomic.Int32
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Generate(ctx context.Context, _ string) (string, error) {
	p.calls.Add(1)
	if p.panic {
		panic("boom")
	}
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.delay):
		}
	}
	return p.text, p.err
}

type fakeEventSink struct {
	mu     sync.Mutex
	errors []domain.ErrorCode
}

func (f *fakeEventSink) ModeChanged(domain.PlaybackMode, domain.SessionStateReason) {}
func (f *fakeEventSink) PartialTranscript(string)                                  {}
func (f *fakeEventSink) FinalTranscript(string, string)                            {}
func (f *fakeEventSink) SessionError(code domain.ErrorCode, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, code)
}

func (f *fakeEventSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errors)
}

func TestChainStopsAtFirstValidatedReply(t *testing.T) {
	t.Parallel()

	p1 := &fakeProvider{name: "p1", err: errors.New("503 service unavailable")}
	p2 := &fakeProvider{name: "p2", text: "ok"}
	p3 := &fakeProvider{name: "p3", text: "twenty characters!!!"}
	p4 := &fakeProvider{name: "p4", text: "should never be asked"}
	events := &fakeEventSink{}

	chain := NewChain([]Attempt{
		{Provider: p1, Timeout: time.Second},
		{Provider: p2, Timeout: time.Second},
		{Provider: p3, Timeout: time.Second},
		{Provider: p4, Timeout: time.Second},
	}, nil, events, zerolog.Nop())

	result := chain.GenerateDetailed(context.Background(), "how are you?")
	if result.Text != "twenty characters!!!" || result.Provider != "p3" || result.Fallback {
		t.Fatalf("unexpected result: %+v", result)
	}
	if p4.calls.Load() != 0 {
		t.Fatalf("expected p4 not to be consulted")
	}
	if len(result.Attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(result.Attempts))
	}
	if !strings.Contains(result.Attempts[1].Failure, ErrRejected.Error()) {
		t.Fatalf("expected short reply to be rejected, got %q", result.Attempts[1].Failure)
	}
	if result.Attempts[0].ID == "" || result.Attempts[0].ID == result.Attempts[1].ID {
		t.Fatalf("expected distinct attempt ids")
	}
	if events.count() != 2 {
		t.Fatalf("expected two provider failures reported, got %d", events.count())
	}
}

func TestChainFallsBackWhenAllProvidersFail(t *testing.T) {
	t.Parallel()

	fallback := NewLocalFallback()
	chain := NewChain([]Attempt{
		{Provider: &fakeProvider{name: "a", err: errors.New("timeout")}, Timeout: time.Second},
		{Provider: &fakeProvider{name: "b", text: "   "}, Timeout: time.Second},
		{Provider: &fakeProvider{name: "c", panic: true}, Timeout: time.Second},
	}, fallback, nil, zerolog.Nop())

	result := chain.GenerateDetailed(context.Background(), "tell me something")
	if !result.Fallback || result.Provider != LocalProviderName {
		t.Fatalf("expected local fallback, got %+v", result)
	}
	found := false
	for _, line := range fallback.Lines() {
		if line == result.Text {
			found = true
		}
	}
	if !found || result.Text == "" {
		t.Fatalf("fallback text %q not drawn from the catalog", result.Text)
	}
	if !strings.Contains(result.Attempts[2].Failure, "panicked") {
		t.Fatalf("expected panic to be recorded as a failure, got %q", result.Attempts[2].Failure)
	}
}

func TestChainBoundedBySumOfTimeouts(t *testing.T) {
	t.Parallel()

	chain := NewChain([]Attempt{
		{Provider: &fakeProvider{name: "slow1", text: "never arrives in time", delay: time.Second}, Timeout: 20 * time.Millisecond},
		{Provider: &fakeProvider{name: "slow2", text: "never arrives in time", delay: time.Second}, Timeout: 30 * time.Millisecond},
	}, nil, nil, zerolog.Nop())

	if chain.Budget() != 50*time.Millisecond {
		t.Fatalf("unexpected budget %s", chain.Budget())
	}

	started := time.Now()
	text := chain.Generate(context.Background(), "question")
	elapsed := time.Since(started)
	if text == "" {
		t.Fatalf("expected fallback text")
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("chain blocked for %s", elapsed)
	}
}

func TestChainWithoutProvidersUsesFallback(t *testing.T) {
	t.Parallel()

	chain := NewChain(nil, NewLocalFallback("only line here"), nil, zerolog.Nop())
	if got := chain.Generate(context.Background(), "anything"); got != "only line here" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestChainUsesCascadeBudgetAsTimeout(t *testing.T) {
	t.Parallel()

	cascade := NewCascade("openai", []Backend{
		{Provider: &fakeProvider{name: "m1"}, Timeout: 12 * time.Second},
		{Provider: &fakeProvider{name: "m2"}, Timeout: 13 * time.Second},
	}, zerolog.Nop())
	chain := NewChain([]Attempt{{Provider: cascade}, {Provider: &fakeProvider{name: "x"}}}, nil, nil, zerolog.Nop())

	if chain.Budget() != 25*time.Second+DefaultTimeout {
		t.Fatalf("unexpected budget %s", chain.Budget())
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	if _, err := Validate("  hello "); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected 5 characters to be rejected, got %v", err)
	}
	if got, err := Validate("  hello! "); err != nil || got != "hello!" {
		t.Fatalf("unexpected result %q, %v", got, err)
	}
	if _, err := Validate("héllo"); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected characters, not bytes, to be counted")
	}
}
