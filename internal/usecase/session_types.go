package usecase

import (
	"context"
	"sync/atomic"

	"voxdeck/internal/domain"
	"voxdeck/internal/ports"
)

// runOutcome is the single terminal transition of a playback run.
type runOutcome int32

const (
	outcomePending runOutcome = iota
	outcomeFade
	outcomeFinished
	outcomeCancelled
)

// activeRun is one clip or intro playback owned by the session. The listener
// fields are only set for intros.
type activeRun struct {
	mode     domain.PlaybackMode
	cancel   context.CancelFunc
	playback ports.Playback

	outcome atomic.Int32

	listenerCancel context.CancelFunc
	listenerDone   chan struct{}

	done chan struct{}
}

func newActiveRun(mode domain.PlaybackMode, playback ports.Playback, cancel context.CancelFunc) *activeRun {
	return &activeRun{
		mode:     mode,
		cancel:   cancel,
		playback: playback,
		done:     make(chan struct{}),
	}
}

// requestFade claims the fade transition. It returns false if another
// terminal transition already won.
func (r *activeRun) requestFade() bool {
	return r.outcome.CompareAndSwap(int32(outcomePending), int32(outcomeFade))
}

func (r *activeRun) markFinished() bool {
	return r.outcome.CompareAndSwap(int32(outcomePending), int32(outcomeFinished))
}

func (r *activeRun) markCancelled() bool {
	return r.outcome.CompareAndSwap(int32(outcomePending), int32(outcomeCancelled))
}

func (r *activeRun) fadeRequested() bool {
	return runOutcome(r.outcome.Load()) == outcomeFade
}

func (r *activeRun) stopListener() {
	if r.listenerCancel == nil {
		return
	}
	r.listenerCancel()
	<-r.listenerDone
}
