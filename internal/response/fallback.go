package response

import (
	"math/rand"
	"sync"
	"time"
)

var defaultLines = []string{
	"My crystal ball is foggy today. Ask me again after a deep breath.",
	"The cloud spirits are not answering, but I am still here with you.",
	"Even the best oracles need a nap. Try me once more in a moment.",
	"I lost the signal, so here is some free advice: drink some water.",
	"No answer from the wider world right now. Shall we play something calm?",
	"The network is meditating. Let us keep our thoughts steady in the meantime.",
	"I could not reach my clever friends, but I believe in you anyway.",
	"Static on the line. Picture a quiet beach while I reconnect.",
}

// LocalFallback picks canned lines uniformly at random. The generator is
// seeded from the clock so runs do not repeat the same sequence.
type LocalFallback struct {
	mu    sync.Mutex
	rng   *rand.Rand
	lines []string
}

func NewLocalFallback(lines ...string) *LocalFallback {
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if line != "" {
			kept = append(kept, line)
		}
	}
	if len(kept) == 0 {
		kept = append(kept, defaultLines...)
	}
	return &LocalFallback{
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		lines: kept,
	}
}

// Line returns one canned line. It is never empty.
func (f *LocalFallback) Line() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lines[f.rng.Intn(len(f.lines))]
}

// Lines returns a copy of the catalog.
func (f *LocalFallback) Lines() []string {
	return append([]string(nil), f.lines...)
}
