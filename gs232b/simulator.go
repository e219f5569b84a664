package gs232b

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"regexp"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// Discrete simulation step size.
	simStepSize = 25 * time.Millisecond
	// Hardware elevation travel of a G-5500 style rotor.
	simMaxElevation = 180
)

// Simulator is an in-memory replica of a GS-232B rotor controller. It
// consumes the same command vocabulary as the real device, integrates
// position over a fixed tick, and answers polls with the same status line
// format, so the planning and ramp layers can be exercised end to end
// without hardware.
type Simulator struct {
	conn io.ReadWriteCloser

	mu        sync.Mutex
	azimuth   float64
	elevation float64
	// pending position targets; NaN means no target
	targetAz float64
	targetEl float64
	// held direction, -1/0/+1 per axis
	azDir float64
	elDir float64
	rng   float64

	// AzSpeed and ElSpeed are in degrees/second.
	AzSpeed float64
	ElSpeed float64
}

// NewSimulator returns a simulator and the peer end of its connection.
func NewSimulator() (*Simulator, net.Conn) {
	a, b := net.Pipe()
	return &Simulator{
		conn:     a,
		targetAz: math.NaN(),
		targetEl: math.NaN(),
		rng:      360,
		AzSpeed:  8,
		ElSpeed:  4,
	}, b
}

// Position returns the current raw azimuth and elevation.
func (s *Simulator) Position() (az, el float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.azimuth, s.elevation
}

// SetPosition places the rotor without motion, for test setup.
func (s *Simulator) SetPosition(az, el float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.azimuth, s.elevation = az, el
}

// Run drives the simulator until the context is canceled.
func (s *Simulator) Run(ctx context.Context) error {
	defer s.conn.Close()
	t := time.NewTicker(simStepSize)
	defer t.Stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
			s.step(simStepSize.Seconds())
		}
	})
	g.Go(s.reader)
	return g.Wait()
}

func (s *Simulator) reader() error {
	scanner := bufio.NewScanner(s.conn)
	scanner.Split(scanLines)
	for scanner.Scan() {
		input := scanner.Text()
		if input == "" {
			continue
		}
		if err := s.parseInput(input); err != nil {
			log.Printf("sim: parsing %q: %v", input, err)
			continue
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading port: %w", err)
	}
	return nil
}

var (
	simMoveAzRE   = regexp.MustCompile(`^M(\d{1,3})$`)
	simMoveAzElRE = regexp.MustCompile(`^W(\d{1,3}) (\d{1,3})$`)
	simExtendedRE = regexp.MustCompile(`^s[A-Z]{2,3}\d+$`)
)

func (s *Simulator) parseInput(input string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch input {
	case CmdRight:
		s.azDir, s.targetAz = 1, math.NaN()
	case CmdLeft:
		s.azDir, s.targetAz = -1, math.NaN()
	case CmdUp:
		s.elDir, s.targetEl = 1, math.NaN()
	case CmdDown:
		s.elDir, s.targetEl = -1, math.NaN()
	case CmdStopAzimuth:
		s.azDir, s.targetAz = 0, math.NaN()
	case CmdStopElevation:
		s.elDir, s.targetEl = 0, math.NaN()
	case CmdStopAll:
		s.azDir, s.targetAz = 0, math.NaN()
		s.elDir, s.targetEl = 0, math.NaN()
	case CmdMode360:
		s.rng = 360
	case CmdMode450:
		s.rng = 450
	case CmdPollAzimuth:
		return s.send("AZ=%03d", int(math.Round(s.azimuth)))
	case CmdPollElevation:
		return s.send("EL=%03d", int(math.Round(s.elevation)))
	case CmdPollAzEl:
		return s.send("AZ=%03d  EL=%03d", int(math.Round(s.azimuth)), int(math.Round(s.elevation)))
	default:
		if m := simMoveAzRE.FindStringSubmatch(input); m != nil {
			v, _ := strconv.Atoi(m[1])
			s.targetAz, s.azDir = float64(v), 0
			return nil
		}
		if m := simMoveAzElRE.FindStringSubmatch(input); m != nil {
			az, _ := strconv.Atoi(m[1])
			el, _ := strconv.Atoi(m[2])
			s.targetAz, s.azDir = float64(az), 0
			s.targetEl, s.elDir = float64(el), 0
			return nil
		}
		if simExtendedRE.MatchString(input) {
			// Vendor speed/delay setup; accepted and ignored.
			return nil
		}
		return fmt.Errorf("unrecognized command %q", input)
	}
	return nil
}

// step integrates position for one tick. The device drives linearly toward
// numeric targets within its travel; it never wraps through the end stop.
func (s *Simulator) step(dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.azimuth = advance(s.azimuth, s.targetAz, s.azDir, s.AzSpeed*dt, 0, s.rng)
	if s.azDir != 0 && (s.azimuth <= 0 || s.azimuth >= s.rng) {
		s.azDir = 0
	}
	s.elevation = advance(s.elevation, s.targetEl, s.elDir, s.ElSpeed*dt, 0, simMaxElevation)
	if s.elDir != 0 && (s.elevation <= 0 || s.elevation >= simMaxElevation) {
		s.elDir = 0
	}
}

func advance(pos, target, dir, step, min, max float64) float64 {
	switch {
	case dir != 0:
		pos += dir * step
	case !math.IsNaN(target):
		delta := target - pos
		if math.Abs(delta) < step {
			pos = target
		} else if delta > 0 {
			pos += step
		} else {
			pos -= step
		}
	}
	if pos < min {
		pos = min
	}
	if pos > max {
		pos = max
	}
	return pos
}

func (s *Simulator) send(format string, fields ...interface{}) error {
	_, err := fmt.Fprintf(s.conn, format+"\r\n", fields...)
	return err
}

// scanLines splits on CR or LF, matching the controller's line discipline.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\r' || b == '\n' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
