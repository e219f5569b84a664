// Package control ties the protocol layer to a transport: it owns the
// polling loop, tracks the last reported position, and runs the ramp
// sessions that turn position requests into paced command sequences.
package control

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/gs232b"
	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/rotator"
)

// DefaultPollInterval is how often the controller asks the hardware for
// its position.
const DefaultPollInterval = 500 * time.Millisecond

// session is one running ramp goroutine. Automatic sessions are cancelled
// outright; manual jog sessions are released so they can ramp down first.
type session struct {
	cancel  context.CancelFunc
	done    chan struct{}
	release chan struct{}
	azAxis  bool
	once    sync.Once
}

func (s *session) releaseOnce() {
	s.once.Do(func() { close(s.release) })
}

func (s *session) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Controller drives one rotor over one transport. At most one automatic
// and one manual ramp session run at a time; starting a new one ends its
// predecessor before any command of the new session goes out.
type Controller struct {
	// startMu serializes session turnover: cancel of the predecessor and
	// store of the successor happen under it, so concurrent callers can
	// never leave an untracked session running.
	startMu sync.Mutex

	mu           sync.Mutex
	transport    rotator.Transport
	sender       *gs232b.Sender
	connCtx      context.Context
	connStop     context.CancelFunc
	generation   int
	auto         *session
	manual       *session
	limits       rotator.Limits
	calibration  rotator.Calibration
	speed        rotator.Speed
	ramp         rotator.Ramp
	mode         rotator.Mode
	permissive   bool
	pollInterval time.Duration

	statusMu   sync.RWMutex
	status     rotator.Status
	haveStatus bool

	listenerMu      sync.Mutex
	statusListeners []rotator.StatusCallback
	errorListeners  []rotator.ErrorCallback
}

func New() *Controller {
	return &Controller{
		limits:       rotator.DefaultLimits(),
		calibration:  rotator.DefaultCalibration(),
		speed:        rotator.DefaultSpeed(),
		ramp:         rotator.DefaultRamp(),
		mode:         rotator.Mode360,
		pollInterval: DefaultPollInterval,
	}
}

// Connect opens the transport and starts the read and poll loops. An
// existing connection is torn down first.
func (c *Controller) Connect(t rotator.Transport) error {
	c.Disconnect()
	if err := t.Open(); err != nil {
		return fmt.Errorf("opening transport: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.transport = t
	c.sender = gs232b.NewSender(t)
	c.connCtx, c.connStop = ctx, cancel
	c.generation++
	gen := c.generation
	c.mu.Unlock()
	go c.readLoop(ctx, gen, t.Lines(), t.Errs())
	go c.pollLoop(ctx)
	return nil
}

// Disconnect cancels all sessions, closes the transport and clears the
// cached position.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	if c.connStop != nil {
		c.connStop()
	}
	t := c.transport
	auto, manual := c.auto, c.manual
	c.transport, c.sender = nil, nil
	c.connCtx, c.connStop = nil, nil
	c.auto, c.manual = nil, nil
	c.mu.Unlock()

	if auto != nil {
		<-auto.done
	}
	if manual != nil {
		<-manual.done
	}
	if t != nil {
		if err := t.Close(); err != nil {
			log.Printf("controller: closing transport: %v", err)
		}
	}
	c.statusMu.Lock()
	c.status = rotator.Status{}
	c.haveStatus = false
	c.statusMu.Unlock()
}

func (c *Controller) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport != nil && c.transport.IsOpen()
}

// SetAzimuth moves the azimuth axis to az display degrees, taking the
// shortest legal rotation.
func (c *Controller) SetAzimuth(az float64) error {
	return c.dispatch(c.planAzimuth(az))
}

// SetElevation moves the elevation axis to el display degrees.
func (c *Controller) SetElevation(el float64) error {
	return c.dispatch(target{el: el, hasEl: true})
}

// SetAzEl moves both axes.
func (c *Controller) SetAzEl(az, el float64) error {
	goal := c.planAzimuth(az)
	goal.el, goal.hasEl = el, true
	return c.dispatch(goal)
}

// SetAzElRaw sends a position command in raw hardware degrees, bypassing
// calibration, routing and ramping.
func (c *Controller) SetAzElRaw(az, el float64) error {
	c.mu.Lock()
	sender := c.sender
	rng := c.mode.Degrees()
	c.mu.Unlock()
	if sender == nil {
		return rotator.ErrNotOpen
	}
	c.startMu.Lock()
	c.cancelAuto()
	c.startMu.Unlock()
	az = rotator.Clamp(az, 0, rng)
	el = rotator.Clamp(el, 0, 180)
	return sender.MoveAzEl(az, el)
}

// Control starts motion in a named direction ("left", "right", "up",
// "down" or the bare protocol token). Stop tokens are routed to the stop
// handling.
func (c *Controller) Control(token string) error {
	switch token {
	case gs232b.CmdStopAll, "stop":
		return c.Stop()
	case gs232b.CmdStopAzimuth:
		return c.stopAxis(true)
	case gs232b.CmdStopElevation:
		return c.stopAxis(false)
	}
	cmd, ok := gs232b.NormalizeControl(token)
	if !ok {
		return fmt.Errorf("controller: unknown control %q", token)
	}
	if !c.IsConnected() {
		return rotator.ErrNotOpen
	}
	if !c.rampEnabled() {
		return c.command(cmd)
	}
	return c.startManual(cmd)
}

// Stop ends all motion. A running jog session ramps down and issues the
// hardware stop itself; otherwise the stop goes out immediately.
func (c *Controller) Stop() error {
	c.cancelAuto()
	c.mu.Lock()
	manual := c.manual
	c.mu.Unlock()
	if manual != nil && !manual.finished() {
		manual.releaseOnce()
		return nil
	}
	return c.command(gs232b.CmdStopAll)
}

func (c *Controller) stopAxis(azAxis bool) error {
	c.cancelAuto()
	c.mu.Lock()
	manual := c.manual
	c.mu.Unlock()
	if manual != nil && manual.azAxis == azAxis && !manual.finished() {
		manual.releaseOnce()
		return nil
	}
	if azAxis {
		return c.command(gs232b.CmdStopAzimuth)
	}
	return c.command(gs232b.CmdStopElevation)
}

// SetMode selects the azimuth wraparound modulus and tells the hardware.
func (c *Controller) SetMode(m rotator.Mode) error {
	c.mu.Lock()
	c.mode = m
	connected := c.sender != nil
	c.mu.Unlock()
	if !connected {
		return nil
	}
	cmd := gs232b.CmdMode360
	if m == rotator.Mode450 {
		cmd = gs232b.CmdMode450
	}
	return c.command(cmd)
}

// SetSpeed stores the axis speeds and programs the hardware speed stages
// when the profile defines them.
func (c *Controller) SetSpeed(s rotator.Speed) error {
	c.mu.Lock()
	c.speed = s
	connected := c.sender != nil
	c.mu.Unlock()
	if !connected || s.LowStage <= 0 || s.HighStage <= 0 {
		return nil
	}
	for _, cmd := range []string{
		gs232b.Extended(gs232b.CodeSpeedLow, s.LowStage),
		gs232b.Extended(gs232b.CodeSpeedHigh, s.HighStage),
		gs232b.Extended(gs232b.CodeSwitchAngle, s.SwitchAngleCode),
	} {
		if err := c.command(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) SetRamp(r rotator.Ramp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ramp = r.Normalize()
}

func (c *Controller) SetLimits(l rotator.Limits) error {
	if err := l.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limits = l
	return nil
}

func (c *Controller) SetCalibration(cal rotator.Calibration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calibration = cal.Normalize()
}

// SetOverlapPolicy controls whether 450° mode may command positions past
// the configured azimuth maximum, up to 450.
func (c *Controller) SetOverlapPolicy(permissive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.permissive = permissive
}

// SetPollInterval takes effect on the next Connect.
func (c *Controller) SetPollInterval(d time.Duration) {
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pollInterval = d
}

func (c *Controller) Limits() rotator.Limits {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limits
}

func (c *Controller) Calibration() rotator.Calibration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calibration
}

func (c *Controller) Speed() rotator.Speed {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

func (c *Controller) Ramp() rotator.Ramp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ramp
}

func (c *Controller) Mode() rotator.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// CurrentStatus returns the last reported position. ok is false until the
// first status line arrives after a connect.
func (c *Controller) CurrentStatus() (rotator.Status, bool) {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status, c.haveStatus
}

// Healthy reports whether a position was received within maxAge.
func (c *Controller) Healthy(maxAge time.Duration) bool {
	status, ok := c.CurrentStatus()
	return ok && time.Since(status.Time) <= maxAge
}

func (c *Controller) OnStatus(cb rotator.StatusCallback) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.statusListeners = append(c.statusListeners, cb)
}

func (c *Controller) OnError(cb rotator.ErrorCallback) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.errorListeners = append(c.errorListeners, cb)
}

// planAzimuth picks the numeric representation of az that yields the
// shortest rotation from the current position.
func (c *Controller) planAzimuth(az float64) target {
	r := c.router()
	goal := target{hasAz: true}
	status, ok := c.CurrentStatus()
	if !ok {
		goal.az = rotator.Clamp(az, r.Limits.AzimuthMin, r.EffectiveMax())
		return goal
	}
	plan := r.Plan(status.Azimuth, az)
	if plan.UsesWrap {
		log.Printf("controller: azimuth %.1f routed via %.1f (%s %.1f deg)",
			az, plan.Target, plan.Direction, math.Abs(plan.Delta))
	}
	goal.az = plan.Target
	return goal
}

// dispatch runs a position goal either as an automatic ramp session or as
// one direct command. Either way it supersedes any running automatic
// session.
func (c *Controller) dispatch(goal target) error {
	if !c.IsConnected() {
		return rotator.ErrNotOpen
	}
	c.startMu.Lock()
	defer c.startMu.Unlock()
	c.cancelAuto()
	_, haveStatus := c.CurrentStatus()
	if c.rampEnabled() && haveStatus {
		return c.startAuto(goal)
	}
	return c.sendTarget(goal)
}

func (c *Controller) startAuto(goal target) error {
	c.mu.Lock()
	ctx := c.connCtx
	c.mu.Unlock()
	if ctx == nil {
		return rotator.ErrNotOpen
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &session{cancel: cancel, done: make(chan struct{})}
	c.mu.Lock()
	c.auto = s
	c.mu.Unlock()
	go func() {
		defer close(s.done)
		c.runAutoRamp(sctx, goal)
	}()
	return nil
}

func (c *Controller) startManual(token string) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	c.mu.Lock()
	ctx := c.connCtx
	prev := c.manual
	c.mu.Unlock()
	if ctx == nil {
		return rotator.ErrNotOpen
	}
	if prev != nil {
		prev.cancel()
		<-prev.done
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		cancel:  cancel,
		done:    make(chan struct{}),
		release: make(chan struct{}),
		azAxis:  gs232b.IsAzimuthToken(token),
	}
	c.mu.Lock()
	c.manual = s
	c.mu.Unlock()
	go func() {
		defer close(s.done)
		c.runManualRamp(sctx, token, s.release)
	}()
	return nil
}

// cancelAuto ends a running automatic session and waits for it to exit, so
// no stale step command follows whatever the caller sends next.
func (c *Controller) cancelAuto() {
	c.mu.Lock()
	auto := c.auto
	c.auto = nil
	c.mu.Unlock()
	if auto != nil {
		auto.cancel()
		<-auto.done
	}
}

// sendTarget converts a display-degree goal into raw wire degrees and
// transmits it. Out-of-limit values are clamped and logged.
func (c *Controller) sendTarget(goal target) error {
	c.mu.Lock()
	sender := c.sender
	cal := c.calibration
	limits := c.limits
	mode := c.mode
	permissive := c.permissive
	c.mu.Unlock()
	if sender == nil {
		return rotator.ErrNotOpen
	}
	rng := mode.Degrees()
	effMax := rotator.Router{Limits: limits, Mode: mode, PermissiveOverlap: permissive}.EffectiveMax()
	status, haveStatus := c.CurrentStatus()

	var wireAz float64
	if goal.hasAz {
		clamped := rotator.Clamp(goal.az, limits.AzimuthMin, effMax)
		if clamped != goal.az {
			log.Printf("controller: azimuth %.1f outside limits, using %.1f", goal.az, clamped)
		}
		raw := cal.AzimuthToRaw(clamped)
		lastRaw := raw
		dir := rotator.Hold
		if haveStatus {
			lastRaw = status.AzimuthRaw
			// Representations are one physical revolution apart; the
			// mode range is the travel span, not the period.
			raw = rotator.ConstrainRaw(raw, lastRaw, rotator.FullRevolution)
			switch {
			case raw > lastRaw:
				dir = rotator.CW
			case raw < lastRaw:
				dir = rotator.CCW
			}
		}
		wireAz = rotator.WireAzimuth(raw, lastRaw, rng, dir)
	}

	if !goal.hasEl {
		if !goal.hasAz {
			return nil
		}
		return sender.MoveAzimuth(wireAz)
	}

	clamped := rotator.Clamp(goal.el, limits.ElevationMin, limits.ElevationMax)
	if clamped != goal.el {
		log.Printf("controller: elevation %.1f outside limits, using %.1f", goal.el, clamped)
	}
	rawEl := rotator.Clamp(cal.ElevationToRaw(clamped), 0, 180)
	if !goal.hasAz {
		if !haveStatus {
			return errors.New("controller: no position reference for elevation-only move")
		}
		wireAz = rotator.WrapAzimuth(status.AzimuthRaw, rng)
	}
	return sender.MoveAzEl(wireAz, rawEl)
}

// sendFinal transmits a goal unconditionally. The last ramp step often lands
// within the sender's minimum resolvable step of the exact target, which
// would otherwise suppress the closing command.
func (c *Controller) sendFinal(goal target) error {
	c.mu.Lock()
	sender := c.sender
	c.mu.Unlock()
	if sender == nil {
		return rotator.ErrNotOpen
	}
	sender.ClearPosition()
	return c.sendTarget(goal)
}

func (c *Controller) command(cmd string) error {
	c.mu.Lock()
	sender := c.sender
	c.mu.Unlock()
	if sender == nil {
		return rotator.ErrNotOpen
	}
	return sender.Command(cmd)
}

func (c *Controller) rampSettings() rotator.Ramp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ramp
}

func (c *Controller) rampEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ramp.Enabled
}

func (c *Controller) modeRange() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode.Degrees()
}

func (c *Controller) currentLimits() rotator.Limits {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limits
}

func (c *Controller) effectiveAzimuthMax() float64 {
	return c.router().EffectiveMax()
}

func (c *Controller) router() rotator.Router {
	c.mu.Lock()
	defer c.mu.Unlock()
	return rotator.Router{Limits: c.limits, Mode: c.mode, PermissiveOverlap: c.permissive}
}

func (c *Controller) axisSpeed(azAxis bool) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if azAxis {
		return c.speed.AzimuthDegPerSec
	}
	return c.speed.ElevationDegPerSec
}

func (c *Controller) readLoop(ctx context.Context, gen int, lines <-chan string, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if r, ok := gs232b.ParseStatusLine(line); ok {
				c.updateStatus(gen, r)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && ctx.Err() == nil {
				c.reportError(fmt.Errorf("transport read: %w", err))
			}
		}
	}
}

func (c *Controller) pollLoop(ctx context.Context) {
	c.mu.Lock()
	interval := c.pollInterval
	c.mu.Unlock()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := c.command(gs232b.CmdPollAzEl); err != nil {
			if ctx.Err() == nil {
				c.reportError(fmt.Errorf("poll: %w", err))
			}
			return
		}
	}
}

// updateStatus merges a parsed status line into the cached position. Lines
// from a previous connection are dropped.
func (c *Controller) updateStatus(gen int, r gs232b.Reading) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	cal := c.calibration
	limits := c.limits
	limits.AzimuthMax = rotator.Router{Limits: c.limits, Mode: c.mode, PermissiveOverlap: c.permissive}.EffectiveMax()
	c.mu.Unlock()

	c.statusMu.Lock()
	s := c.status
	if r.HasAzimuth {
		s.AzimuthRaw = r.Azimuth
	}
	if r.HasElevation {
		s.ElevationRaw = r.Elevation
	}
	s.Azimuth = cal.AzimuthToDisplay(s.AzimuthRaw, limits)
	s.Elevation = cal.ElevationToDisplay(s.ElevationRaw, limits)
	s.Time = time.Now()
	c.status = s
	c.haveStatus = true
	c.statusMu.Unlock()

	c.listenerMu.Lock()
	listeners := append([]rotator.StatusCallback(nil), c.statusListeners...)
	c.listenerMu.Unlock()
	for _, cb := range listeners {
		cb(s)
	}
}

func (c *Controller) reportError(err error) {
	log.Printf("controller: %v", err)
	c.listenerMu.Lock()
	listeners := append([]rotator.ErrorCallback(nil), c.errorListeners...)
	c.listenerMu.Unlock()
	for _, cb := range listeners {
		cb(err)
	}
}
