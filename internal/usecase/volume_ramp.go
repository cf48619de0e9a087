package usecase

import (
	"time"

	"voxdeck/internal/domain"
)

// RampAction is the terminal action of a fade plan.
type RampAction string

const RampStop RampAction = "stop"

// FadePlan is a linear fade to silence: each volume is held for Hold, then
// Final is applied.
type FadePlan struct {
	Volumes []float64
	Hold    time.Duration
	Final   RampAction
}

// VolumeRamp computes the fade-out curve for the canonical schedule.
func VolumeRamp(initial float64) FadePlan {
	return VolumeRampFor(domain.NewFadeSchedule(initial))
}

// VolumeRampFor computes the fade-out curve for an arbitrary schedule.
// Volumes decrease strictly and the last one is exactly zero.
func VolumeRampFor(schedule domain.FadeSchedule) FadePlan {
	initial := clampVolume(schedule.InitialVolume)
	steps := schedule.Steps
	if steps <= 0 {
		steps = domain.FadeSteps
	}

	volumes := make([]float64, steps)
	for i := range volumes {
		volumes[i] = initial * float64(steps-i-1) / float64(steps)
	}

	return FadePlan{Volumes: volumes, Hold: schedule.Interval(), Final: RampStop}
}

func clampVolume(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
