package experiment

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/pkg/errors"
)

// runTarget takes the controller to one target and holds it there.  The
// approach is a planned ramp or a direct PID pull depending on the mode,
// then the optional overshoot maneuver, then stabilization.
func (e *Experiment) runTarget(ctx context.Context, step int, target float64) error {
	log.Printf("step %d: target %.2f C", step+1, target)
	if e.cfg.FastMode {
		if err := e.fastApproach(ctx, step, target); err != nil {
			return err
		}
	} else {
		if err := e.ramp(ctx, step, target); err != nil {
			return err
		}
	}
	if e.cfg.Overshoot {
		if err := e.overshoot(ctx, step, target); err != nil {
			return err
		}
	}
	since, err := e.stabilize(ctx, step, target)
	if err != nil {
		return err
	}
	log.Printf("step %d: stabilized at %.2f C, in band since %s",
		step+1, target, since.Format("15:04:05"))
	// one confirmatory row with the true target before moving on
	_, err = e.pollAndLog(target, step)
	return err
}

// ramp walks the planned setpoint ladder, dwelling between rungs while
// logging on the sampling cadence.
func (e *Experiment) ramp(ctx context.Context, step int, target float64) error {
	current, err := e.ctrl.Temperature()
	if err != nil {
		return errors.Wrap(err, "experiment: temperature read failed")
	}
	e.snap.Store(current)
	plan := PlanRamp(current, target, e.cfg.Rate)
	log.Printf("step %d: ramp %.2f -> %.2f C, %d setpoints, dwell %s",
		step+1, current, target, len(plan.Setpoints), plan.Dwell)
	for _, sp := range plan.Setpoints {
		if err := e.ctrl.SetSetpoint(sp); err != nil {
			return errors.Wrapf(err, "experiment: setpoint %.2f C rejected", sp)
		}
		if plan.Dwell <= 0 {
			continue
		}
		if err := e.dwell(ctx, step, sp, plan.Dwell); err != nil {
			return err
		}
	}
	return nil
}

// dwell holds one ramp setpoint for d, polling and logging as it waits.
func (e *Experiment) dwell(ctx context.Context, step int, setpoint float64, d time.Duration) error {
	deadline := time.Now().Add(d)
	for {
		measured, err := e.pollAndLog(setpoint, step)
		if err != nil {
			return err
		}
		e.logDrive(step, setpoint, measured)
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		wait := e.cfg.SampleEvery
		if remaining < wait {
			wait = remaining
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// fastApproach commands the target directly and polls until the
// measured temperature is within twice the tolerance, close enough to
// hand over to stabilization.
func (e *Experiment) fastApproach(ctx context.Context, step int, target float64) error {
	if err := e.ctrl.SetSetpoint(target); err != nil {
		return errors.Wrapf(err, "experiment: setpoint %.2f C rejected", target)
	}
	for {
		measured, err := e.pollAndLog(target, step)
		if err != nil {
			return err
		}
		e.logDrive(step, target, measured)
		if math.Abs(measured-target) <= 2*e.cfg.Tolerance {
			return nil
		}
		if err := sleepCtx(ctx, e.cfg.PollEvery); err != nil {
			return err
		}
	}
}
