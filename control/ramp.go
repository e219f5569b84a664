package control

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/rotator"
)

// target is a per-axis goal in calibrated degrees.
type target struct {
	az, el       float64
	hasAz, hasEl bool
}

// staleSamples is how many sample periods without a status update count as
// a lost position reference.
const staleSamples = 3

// piStep computes one bounded PI output for the given error and integral
// state. The returned step is clamped to MaxStepDeg, the integral to
// IntegralLimit.
func piStep(errDeg, integral, dt float64, settings rotator.Ramp) (out, newIntegral float64) {
	newIntegral = rotator.Clamp(integral+errDeg*dt, -settings.IntegralLimit, settings.IntegralLimit)
	out = rotator.Clamp(settings.Kp*errDeg+settings.Ki*newIntegral, -settings.MaxStepDeg, settings.MaxStepDeg)
	return out, newIntegral
}

// runAutoRamp steps the rotor toward goal in bounded PI increments until
// every requested axis is within tolerance, then issues one exact-target
// command. If the device stops reporting position mid-ramp, the final
// target is sent directly rather than looping forever.
func (c *Controller) runAutoRamp(ctx context.Context, goal target) {
	settings := c.rampSettings()
	rng := c.modeRange()
	dt := settings.SampleTime.Seconds()

	ticker := time.NewTicker(settings.SampleTime)
	defer ticker.Stop()

	var azIntegral, elIntegral float64
	azDone, elDone := !goal.hasAz, !goal.hasEl

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, ok := c.CurrentStatus()
		if !ok || time.Since(status.Time) > staleSamples*settings.SampleTime {
			log.Printf("ramp: position reference lost, sending final target")
			if err := c.sendFinal(goal); err != nil {
				c.reportError(err)
			}
			return
		}

		var step target
		if !azDone {
			azErr := rotator.ShortestAngularDelta(goal.az, status.Azimuth, rng)
			if math.Abs(azErr) <= settings.ToleranceDeg {
				azDone = true
			} else {
				var out float64
				out, azIntegral = piStep(azErr, azIntegral, dt, settings)
				step.az, step.hasAz = status.Azimuth+out, true
			}
		}
		if !elDone {
			elErr := goal.el - status.Elevation
			if math.Abs(elErr) <= settings.ToleranceDeg {
				elDone = true
			} else {
				var out float64
				out, elIntegral = piStep(elErr, elIntegral, dt, settings)
				step.el, step.hasEl = status.Elevation+out, true
			}
		}

		if azDone && elDone {
			if err := c.sendFinal(goal); err != nil {
				c.reportError(err)
			}
			return
		}
		if step.hasAz || step.hasEl {
			if err := c.sendTarget(step); err != nil {
				// A write failure aborts the session; retrying is the
				// collaborator's call.
				c.reportError(err)
				return
			}
		}
	}
}
