package rotator

import (
	"errors"
	"math"
	"time"
)

var (
	// ErrNotOpen is returned when a command is attempted while the
	// transport is closed.
	ErrNotOpen = errors.New("rotator: transport not open")
	// ErrInvalidLimits is returned when a limit pair has min > max.
	ErrInvalidLimits = errors.New("rotator: min limit exceeds max limit")
)

// Transport is the line-oriented link to the rotor controller. Concrete
// variants (serial hardware, simulator pipe) are selected by configuration.
type Transport interface {
	Open() error
	Close() error
	IsOpen() bool
	WriteLine(line string) error
	// Lines yields received lines; Errs yields read failures. Both are
	// closed when the transport closes.
	Lines() <-chan string
	Errs() <-chan error
}

type StatusCallback func(status Status)

type ErrorCallback func(err error)

// Status is the last known rotor position. It is written wholesale by the
// status-line parser and read-only everywhere else.
type Status struct {
	AzimuthRaw   float64 `json:"azimuthRaw"`
	ElevationRaw float64 `json:"elevationRaw"`
	// Azimuth and Elevation are calibrated (display) degrees.
	Azimuth   float64   `json:"azimuth"`
	Elevation float64   `json:"elevation"`
	Time      time.Time `json:"time"`
}

// Mode is the azimuth wraparound modulus.
type Mode int

const (
	Mode360 Mode = 360
	Mode450 Mode = 450
)

func (m Mode) Degrees() float64 {
	if m == Mode450 {
		return 450
	}
	return 360
}

// Direction of a planned azimuth rotation.
type Direction int

const (
	Hold Direction = iota
	CW
	CCW
)

func (d Direction) String() string {
	switch d {
	case CW:
		return "CW"
	case CCW:
		return "CCW"
	}
	return "HOLD"
}

// Limits are soft limits in calibrated degrees.
type Limits struct {
	AzimuthMin   float64 `yaml:"azimuth_min" json:"azimuthMin"`
	AzimuthMax   float64 `yaml:"azimuth_max" json:"azimuthMax"`
	ElevationMin float64 `yaml:"elevation_min" json:"elevationMin"`
	ElevationMax float64 `yaml:"elevation_max" json:"elevationMax"`
}

func (l Limits) Validate() error {
	if l.AzimuthMin > l.AzimuthMax || l.ElevationMin > l.ElevationMax {
		return ErrInvalidLimits
	}
	return nil
}

// DefaultLimits covers a stock G-5500 style rotor.
func DefaultLimits() Limits {
	return Limits{AzimuthMin: 0, AzimuthMax: 360, ElevationMin: 0, ElevationMax: 90}
}

// Speed holds per-axis ramp speeds plus the discrete speed stages of
// hardware that supports them.
type Speed struct {
	AzimuthDegPerSec   float64 `yaml:"azimuth_deg_per_sec" json:"azimuthDegPerSec"`
	ElevationDegPerSec float64 `yaml:"elevation_deg_per_sec" json:"elevationDegPerSec"`
	// LowStage and HighStage are vendor speed stage codes; SwitchAngleCode
	// selects the angle at which the controller changes stage. Zero values
	// mean the hardware has no discrete stages.
	LowStage        int `yaml:"low_stage" json:"lowStage"`
	HighStage       int `yaml:"high_stage" json:"highStage"`
	SwitchAngleCode int `yaml:"switch_angle_code" json:"switchAngleCode"`
}

func DefaultSpeed() Speed {
	return Speed{AzimuthDegPerSec: 4, ElevationDegPerSec: 2}
}

// Ramp configures the closed-loop trajectory generators.
type Ramp struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	Kp            float64       `yaml:"kp" json:"kp"`
	Ki            float64       `yaml:"ki" json:"ki"`
	SampleTime    time.Duration `yaml:"sample_time" json:"sampleTime"`
	MaxStepDeg    float64       `yaml:"max_step_deg" json:"maxStepDeg"`
	ToleranceDeg  float64       `yaml:"tolerance_deg" json:"toleranceDeg"`
	IntegralLimit float64       `yaml:"integral_limit" json:"integralLimit"`
}

func DefaultRamp() Ramp {
	return Ramp{
		Kp:            0.4,
		Ki:            0.05,
		SampleTime:    400 * time.Millisecond,
		MaxStepDeg:    8,
		ToleranceDeg:  1.5,
		IntegralLimit: 30,
	}
}

// Normalize clamps every field into its safe range. Out-of-range values are
// corrected rather than rejected.
func (r Ramp) Normalize() Ramp {
	r.Kp = Clamp(r.Kp, 0.05, 2)
	r.Ki = Clamp(r.Ki, 0, 1)
	if r.SampleTime < 50*time.Millisecond {
		r.SampleTime = 50 * time.Millisecond
	}
	if r.SampleTime > 2*time.Second {
		r.SampleTime = 2 * time.Second
	}
	r.MaxStepDeg = Clamp(r.MaxStepDeg, 0.5, 20)
	r.ToleranceDeg = Clamp(r.ToleranceDeg, 0.1, 5)
	r.IntegralLimit = Clamp(r.IntegralLimit, 1, 100)
	return r
}

func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// WrapAzimuth folds v into [0, rng).
func WrapAzimuth(v, rng float64) float64 {
	return math.Mod(math.Mod(v, rng)+rng, rng)
}

// ShortestAngularDelta folds target-current into [-rng/2, rng/2]. Positive
// means clockwise.
func ShortestAngularDelta(target, current, rng float64) float64 {
	delta := target - current
	if rng <= 0 {
		return delta
	}
	for delta > rng/2 {
		delta -= rng
	}
	for delta < -rng/2 {
		delta += rng
	}
	return delta
}
