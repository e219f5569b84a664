// Package routes runs stored position sequences: lists of headings with
// pauses and manual holds, looped or one-shot.
package routes

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/rotator"
)

var (
	// ErrStepTimeout aborts a route when a position step never settles.
	ErrStepTimeout = errors.New("routes: position step timed out")
	// ErrEmptyRoute rejects routes with no steps.
	ErrEmptyRoute = errors.New("routes: route has no steps")
)

const (
	// DefaultToleranceDeg is how close an axis must get for a position
	// step to count as reached.
	DefaultToleranceDeg = 2.0
	// DefaultStepTimeout bounds how long one position step may take.
	DefaultStepTimeout = 60 * time.Second
	// DefaultCheckInterval is the arrival polling period.
	DefaultCheckInterval = 200 * time.Millisecond
)

// Step is one entry of a route. A step may hold a position, a pause, a
// manual hold, or any combination; position is commanded first, then the
// pauses apply.
type Step struct {
	Azimuth   *float64      `yaml:"azimuth,omitempty" json:"azimuth,omitempty"`
	Elevation *float64      `yaml:"elevation,omitempty" json:"elevation,omitempty"`
	Pause     time.Duration `yaml:"pause,omitempty" json:"pause,omitempty"`
	// WaitForContinue holds the route until Continue is called.
	WaitForContinue bool `yaml:"wait_for_continue,omitempty" json:"waitForContinue,omitempty"`
}

// Route is a named sequence of steps. Repeat runs the sequence that many
// times; Loop runs it until stopped.
type Route struct {
	Name   string `yaml:"name" json:"name"`
	Loop   bool   `yaml:"loop,omitempty" json:"loop,omitempty"`
	Repeat int    `yaml:"repeat,omitempty" json:"repeat,omitempty"`
	Steps  []Step `yaml:"steps" json:"steps"`
}

// Rotor is the part of the controller a route needs.
type Rotor interface {
	SetAzimuth(az float64) error
	SetElevation(el float64) error
	SetAzEl(az, el float64) error
	CurrentStatus() (rotator.Status, bool)
	Stop() error
}

// Progress reports route state to listeners after every step transition.
type Progress struct {
	Route   string `json:"route"`
	Step    int    `json:"step"`
	Total   int    `json:"total"`
	Waiting bool   `json:"waiting"`
	Done    bool   `json:"done"`
	Err     string `json:"error,omitempty"`
}

type ProgressCallback func(p Progress)

// Executor runs at most one route at a time. Starting a route cancels the
// previous one.
type Executor struct {
	ToleranceDeg  float64
	StepTimeout   time.Duration
	CheckInterval time.Duration

	rotor Rotor

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	cont     chan struct{}
	progress []ProgressCallback
}

func NewExecutor(r Rotor) *Executor {
	return &Executor{
		ToleranceDeg:  DefaultToleranceDeg,
		StepTimeout:   DefaultStepTimeout,
		CheckInterval: DefaultCheckInterval,
		rotor:         r,
	}
}

func (e *Executor) OnProgress(cb ProgressCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progress = append(e.progress, cb)
}

// Start begins running route in the background, replacing any running
// route.
func (e *Executor) Start(route Route) error {
	if len(route.Steps) == 0 {
		return ErrEmptyRoute
	}
	e.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.mu.Lock()
	e.cancel = cancel
	e.done = done
	e.cont = make(chan struct{}, 1)
	e.mu.Unlock()
	go func() {
		defer close(done)
		e.run(ctx, route)
	}()
	return nil
}

// Stop cancels the running route, if any, and waits for it to exit. The
// rotor keeps its last commanded motion; callers stop it separately when
// needed.
func (e *Executor) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	done := e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Continue releases a step that waits for manual confirmation.
func (e *Executor) Continue() {
	e.mu.Lock()
	cont := e.cont
	e.mu.Unlock()
	if cont == nil {
		return
	}
	select {
	case cont <- struct{}{}:
	default:
	}
}

func (e *Executor) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done == nil {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

func (e *Executor) run(ctx context.Context, route Route) {
	for pass := 0; ; pass++ {
		for i, step := range route.Steps {
			if ctx.Err() != nil {
				return
			}
			e.report(Progress{Route: route.Name, Step: i, Total: len(route.Steps), Waiting: step.WaitForContinue})
			if err := e.runStep(ctx, step); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("routes: %s step %d: %v", route.Name, i, err)
				e.report(Progress{Route: route.Name, Step: i, Total: len(route.Steps), Done: true, Err: err.Error()})
				return
			}
		}
		if route.Loop {
			continue
		}
		if pass+1 >= route.Repeat {
			break
		}
	}
	e.report(Progress{Route: route.Name, Step: len(route.Steps), Total: len(route.Steps), Done: true})
}

func (e *Executor) runStep(ctx context.Context, step Step) error {
	if step.Azimuth != nil || step.Elevation != nil {
		var err error
		switch {
		case step.Azimuth != nil && step.Elevation != nil:
			err = e.rotor.SetAzEl(*step.Azimuth, *step.Elevation)
		case step.Azimuth != nil:
			err = e.rotor.SetAzimuth(*step.Azimuth)
		default:
			err = e.rotor.SetElevation(*step.Elevation)
		}
		if err != nil {
			return fmt.Errorf("commanding position: %w", err)
		}
		if err := e.awaitArrival(ctx, step); err != nil {
			return err
		}
	}
	if step.Pause > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step.Pause):
		}
	}
	if step.WaitForContinue {
		e.mu.Lock()
		cont := e.cont
		e.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cont:
		}
	}
	return nil
}

func (e *Executor) awaitArrival(ctx context.Context, step Step) error {
	deadline := time.Now().Add(e.StepTimeout)
	ticker := time.NewTicker(e.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if time.Now().After(deadline) {
			return ErrStepTimeout
		}
		status, ok := e.rotor.CurrentStatus()
		if !ok {
			continue
		}
		arrived := true
		if step.Azimuth != nil {
			// Compare as headings so overlap representations match.
			d := rotator.ShortestAngularDelta(*step.Azimuth, status.Azimuth, 360)
			arrived = arrived && math.Abs(d) <= e.ToleranceDeg
		}
		if step.Elevation != nil {
			arrived = arrived && math.Abs(*step.Elevation-status.Elevation) <= e.ToleranceDeg
		}
		if arrived {
			return nil
		}
	}
}

func (e *Executor) report(p Progress) {
	e.mu.Lock()
	listeners := append([]ProgressCallback(nil), e.progress...)
	e.mu.Unlock()
	for _, cb := range listeners {
		cb(p)
	}
}
