package gs232b

import (
	"math"
	"sync"
	"time"

	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/rotator"
)

const (
	// DefaultPollDelay is the minimum spacing after polls and direction
	// tokens.
	DefaultPollDelay = 50 * time.Millisecond
	// DefaultSettleDelay is the minimum spacing after position and mode
	// commands, which the controller firmware processes more slowly.
	DefaultSettleDelay = 200 * time.Millisecond
	// DefaultMinStepDeg is the smallest position change worth
	// transmitting; the wire format resolves whole degrees only.
	DefaultMinStepDeg = 1.0
)

// Sender serializes commands onto a transport, enforcing the minimum
// inter-command spacing and suppressing sub-resolution position commands.
// Only one command is in flight at a time: each write waits out the settle
// delay of its predecessor.
type Sender struct {
	PollDelay   time.Duration
	SettleDelay time.Duration
	MinStepDeg  float64

	mu          sync.Mutex
	transport   rotator.Transport
	notBefore   time.Time
	lastAz      float64
	lastEl      float64
	haveLastAz  bool
	haveLastEl  bool
}

func NewSender(t rotator.Transport) *Sender {
	return &Sender{
		PollDelay:   DefaultPollDelay,
		SettleDelay: DefaultSettleDelay,
		MinStepDeg:  DefaultMinStepDeg,
		transport:   t,
	}
}

// Command sends a bare command (direction, stop, poll, mode, extended).
// Stop commands clear the last-sent position so the next move is always
// transmitted.
func (s *Sender) Command(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delay := s.PollDelay
	switch cmd {
	case CmdStopAzimuth:
		s.haveLastAz = false
	case CmdStopElevation:
		s.haveLastEl = false
	case CmdStopAll:
		s.haveLastAz = false
		s.haveLastEl = false
	case CmdMode360, CmdMode450:
		delay = s.SettleDelay
	default:
		if len(cmd) > 0 && cmd[0] == 's' {
			delay = s.SettleDelay
		}
	}
	return s.write(cmd, delay)
}

// MoveAzimuth sends an azimuth position command unless the change from the
// last transmitted azimuth is below the minimum resolvable step.
func (s *Sender) MoveAzimuth(az float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.haveLastAz && math.Abs(az-s.lastAz) < s.MinStepDeg {
		return nil
	}
	if err := s.write(MoveAzimuth(az), s.SettleDelay); err != nil {
		return err
	}
	s.lastAz = az
	s.haveLastAz = true
	return nil
}

// MoveAzEl sends a combined position command unless both axes are within
// the minimum resolvable step of the last transmitted position.
func (s *Sender) MoveAzEl(az, el float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	azSmall := s.haveLastAz && math.Abs(az-s.lastAz) < s.MinStepDeg
	elSmall := s.haveLastEl && math.Abs(el-s.lastEl) < s.MinStepDeg
	if azSmall && elSmall {
		return nil
	}
	if err := s.write(MoveAzEl(az, el), s.SettleDelay); err != nil {
		return err
	}
	s.lastAz, s.lastEl = az, el
	s.haveLastAz, s.haveLastEl = true, true
	return nil
}

// ClearPosition drops the last transmitted position, so the next move goes
// out even when it is within the minimum resolvable step of it.
func (s *Sender) ClearPosition() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.haveLastAz = false
	s.haveLastEl = false
}

// Reset clears the spacing and suppression state, e.g. after reconnecting.
func (s *Sender) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notBefore = time.Time{}
	s.haveLastAz = false
	s.haveLastEl = false
}

// write waits out the previous command's spacing, transmits, and records
// when the next command may go out. Callers hold s.mu.
func (s *Sender) write(cmd string, delay time.Duration) error {
	if wait := time.Until(s.notBefore); wait > 0 {
		time.Sleep(wait)
	}
	if err := s.transport.WriteLine(cmd); err != nil {
		return err
	}
	s.notBefore = time.Now().Add(delay)
	return nil
}
