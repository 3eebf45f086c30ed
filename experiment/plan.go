package experiment

import (
	"math"
	"time"

	"github.com/phaselab/thermosweep/util"
)

// rampStepC is the magnitude of one controlled ramp step.
const rampStepC = 1.0

// RampPlan is an ordered sequence of intermediate setpoints and the
// dwell applied uniformly between them.  Plans are computed per target
// and discarded after use.
type RampPlan struct {
	Setpoints []float64
	Dwell     time.Duration
}

// PlanRamp computes the setpoints for a controlled linear ramp from
// current to target at ratePerMin degrees C per minute.  Whole steps of
// rampStepC are laid down toward the target and the target itself is
// appended when the last whole step lands more than 0.1 C short.  When
// the distance is under one step the plan is just the target with zero
// dwell, the caller proceeds straight to stabilization.
//
// ratePerMin must be positive, PlanRamp does not defend against zero or
// negative rates.
func PlanRamp(current, target, ratePerMin float64) RampPlan {
	distance := math.Abs(target - current)
	steps := int(distance / rampStepC)
	if steps == 0 {
		return RampPlan{Setpoints: []float64{target}}
	}
	direction := 1.0
	if target < current {
		direction = -1.0
	}
	pts := make([]float64, 0, steps+1)
	for i := 1; i <= steps; i++ {
		pts = append(pts, current+direction*rampStepC*float64(i))
	}
	if math.Abs(pts[len(pts)-1]-target) > 0.1 {
		pts = append(pts, target)
	}
	return RampPlan{
		Setpoints: pts,
		Dwell:     util.SecsToDuration(rampStepC / ratePerMin * 60),
	}
}
