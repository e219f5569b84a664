package control

import (
	"context"
	"math"
	"time"

	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/gs232b"
	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/rotator"
)

const (
	manualRampUp       = 2 * time.Second
	manualRampDown     = time.Second
	manualMaxOvershoot = 2.0
	manualStartFactor  = 0.2
	manualSettlePause  = 300 * time.Millisecond
)

// runManualRamp jogs one axis in the direction named by token. Speed ramps
// from manualStartFactor up to full over manualRampUp. When release fires
// the axis ramps down over manualRampDown with overshoot capped at
// manualMaxOvershoot degrees, pauses, steps back to where it was when the
// stop was requested, and finally issues the hardware stop token.
func (c *Controller) runManualRamp(ctx context.Context, token string, release <-chan struct{}) {
	settings := c.rampSettings()
	azAxis := gs232b.IsAzimuthToken(token)
	sign := gs232b.TokenSign(token)
	speed := c.axisSpeed(azAxis)
	dt := settings.SampleTime.Seconds()

	if _, ok := c.CurrentStatus(); !ok {
		// No position reference yet: drive with the raw direction
		// command and stop on release.
		if err := c.command(token); err != nil {
			c.reportError(err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-release:
		}
		if err := c.command(gs232b.StopToken(token)); err != nil {
			c.reportError(err)
		}
		return
	}

	ticker := time.NewTicker(settings.SampleTime)
	defer ticker.Stop()
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-release:
			c.manualStop(ctx, ticker, token, azAxis, sign, speed, dt)
			return
		case <-ticker.C:
		}

		status, ok := c.CurrentStatus()
		if !ok {
			continue
		}
		factor := 1.0
		if elapsed := time.Since(start); elapsed < manualRampUp {
			factor = manualStartFactor + (1-manualStartFactor)*(elapsed.Seconds()/manualRampUp.Seconds())
		}
		next, atLimit := c.advanceAxis(azAxis, status, sign*speed*dt*factor)
		if err := c.sendAxis(azAxis, next); err != nil {
			c.reportError(err)
			return
		}
		if atLimit {
			// End stop reached: nothing left to jog into.
			if err := c.command(gs232b.StopToken(token)); err != nil {
				c.reportError(err)
			}
			return
		}
	}
}

// manualStop runs the ramp-down, settle and return phases after a jog is
// released.
func (c *Controller) manualStop(ctx context.Context, ticker *time.Ticker, token string, azAxis bool, sign, speed, dt float64) {
	settle := math.NaN()
	if status, ok := c.CurrentStatus(); ok {
		if azAxis {
			settle = status.Azimuth
		} else {
			settle = status.Elevation
		}
	}

	stopStart := time.Now()
	moved := 0.0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		elapsed := time.Since(stopStart)
		if elapsed >= manualRampDown {
			break
		}
		status, ok := c.CurrentStatus()
		if !ok {
			break
		}
		factor := 1 - elapsed.Seconds()/manualRampDown.Seconds()
		step := speed * dt * factor
		if moved+step > manualMaxOvershoot {
			step = manualMaxOvershoot - moved
		}
		if step <= 0 {
			break
		}
		moved += step
		next, atLimit := c.advanceAxis(azAxis, status, sign*step)
		if err := c.sendAxis(azAxis, next); err != nil {
			c.reportError(err)
			return
		}
		if atLimit {
			break
		}
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(manualSettlePause):
	}

	// Step back to where the axis was when the stop was requested.
	if !math.IsNaN(settle) {
		goal := target{}
		if azAxis {
			goal.az, goal.hasAz = settle, true
		} else {
			goal.el, goal.hasEl = settle, true
		}
		c.runAutoRamp(ctx, goal)
	}
	if ctx.Err() != nil {
		return
	}
	if err := c.command(gs232b.StopToken(token)); err != nil {
		c.reportError(err)
	}
}

// advanceAxis moves the named axis by step degrees, clamped to soft limits.
// The second result reports whether the clamp was hit.
func (c *Controller) advanceAxis(azAxis bool, status rotator.Status, step float64) (float64, bool) {
	limits := c.currentLimits()
	if azAxis {
		max := limits.AzimuthMax
		if eff := c.effectiveAzimuthMax(); eff > max {
			max = eff
		}
		next := rotator.Clamp(status.Azimuth+step, limits.AzimuthMin, max)
		return next, next == limits.AzimuthMin || next == max
	}
	next := rotator.Clamp(status.Elevation+step, limits.ElevationMin, limits.ElevationMax)
	return next, next == limits.ElevationMin || next == limits.ElevationMax
}

// sendAxis issues a single-axis position command in calibrated degrees.
func (c *Controller) sendAxis(azAxis bool, value float64) error {
	goal := target{}
	if azAxis {
		goal.az, goal.hasAz = value, true
	} else {
		goal.el, goal.hasEl = value, true
	}
	return c.sendTarget(goal)
}
