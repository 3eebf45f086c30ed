package experiment

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/pkg/errors"
)

// overshoot drives the controller past the target to hurry a phase
// transition along.  The direction is fixed once at entry from the sign
// of current minus target.  The exaggerated setpoint stays commanded
// until the measured temperature first crosses the true target, then
// the true target is re-applied and the maneuver is over for this step.
// Rows logged here carry the overshoot setpoint, on purpose, so the
// maneuver is visible in the record.
//
// The crossing wait is unbounded unless OvershootTimeout is set.  On
// timeout the true target is re-applied and stabilization proceeds
// normally.
func (e *Experiment) overshoot(ctx context.Context, step int, target float64) error {
	current, err := e.ctrl.Temperature()
	if err != nil {
		return errors.Wrap(err, "experiment: temperature read failed")
	}
	e.snap.Store(current)
	cooling := current > target
	sp := target + e.cfg.OvershootC
	if cooling {
		sp = target - e.cfg.OvershootC
	}
	if err := e.ctrl.SetSetpoint(sp); err != nil {
		return errors.Wrapf(err, "experiment: overshoot setpoint %.2f C rejected", sp)
	}
	log.Printf("step %d: overshoot engaged, setpoint %.2f C until %.2f C crosses",
		step+1, sp, target)

	var deadline time.Time
	if e.cfg.OvershootTimeout > 0 {
		deadline = time.Now().Add(e.cfg.OvershootTimeout)
	}
	for {
		measured, err := e.pollAndLog(sp, step)
		if err != nil {
			return err
		}
		crossed := measured >= target
		if cooling {
			crossed = measured <= target
		}
		if crossed {
			log.Printf("step %d: crossed %.2f C at %.2f C, restoring true target",
				step+1, target, measured)
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			log.Printf("step %d: no crossing within %s, restoring true target",
				step+1, e.cfg.OvershootTimeout)
			break
		}
		if err := sleepCtx(ctx, e.cfg.PollEvery); err != nil {
			return err
		}
	}
	if err := e.ctrl.SetSetpoint(target); err != nil {
		return errors.Wrapf(err, "experiment: setpoint %.2f C rejected", target)
	}
	return nil
}

// stabilize blocks until the measured temperature has stayed within
// Tolerance of target for HoldFor continuously.  Leaving the band
// closes the accumulation window without prejudice and a new one opens
// on re-entry.  There is no failure exit, the loop runs until success
// or cancellation, and every poll appends a log row.  On success it
// returns when the winning window opened.
func (e *Experiment) stabilize(ctx context.Context, step int, target float64) (time.Time, error) {
	var windowStart time.Time
	inBand := false
	for {
		measured, err := e.pollAndLog(target, step)
		if err != nil {
			return time.Time{}, err
		}
		now := time.Now()
		if math.Abs(measured-target) <= e.cfg.Tolerance {
			if !inBand {
				inBand = true
				windowStart = now
				log.Printf("step %d: within %.2f C of %.2f C, holding for %s",
					step+1, e.cfg.Tolerance, target, e.cfg.HoldFor)
			} else if now.Sub(windowStart) >= e.cfg.HoldFor {
				return windowStart, nil
			}
		} else if inBand {
			inBand = false
			log.Printf("step %d: left the band around %.2f C at %.2f C, hold reset",
				step+1, target, measured)
		}
		if err := sleepCtx(ctx, e.cfg.PollEvery); err != nil {
			return time.Time{}, err
		}
	}
}
