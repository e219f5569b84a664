package rotator

import (
	"math"
	"testing"
)

func TestAzimuthToDisplay(t *testing.T) {
	lim := DefaultLimits()
	for _, test := range []struct {
		name string
		cal  Calibration
		raw  float64
		want float64
	}{
		{"identity", Calibration{AzimuthScale: 1, ElevationScale: 1}, 180, 180},
		{"offset", Calibration{AzimuthOffset: 10, AzimuthScale: 1, ElevationScale: 1}, 45, 55},
		{"scale", Calibration{AzimuthScale: 2, ElevationScale: 1}, 180, 90},
		{"offset and scale", Calibration{AzimuthOffset: 10, AzimuthScale: 0.5, ElevationScale: 1}, 85, 190},
		{"clamped to max", Calibration{AzimuthOffset: 100, AzimuthScale: 1, ElevationScale: 1}, 350, 360},
		{"clamped to min", Calibration{AzimuthOffset: -100, AzimuthScale: 1, ElevationScale: 1}, 50, 0},
		{"zero scale guarded", Calibration{AzimuthScale: 0, ElevationScale: 1}, 30, 300},
	} {
		t.Run(test.name, func(t *testing.T) {
			if got := test.cal.AzimuthToDisplay(test.raw, lim); got != test.want {
				t.Errorf("AzimuthToDisplay(%v) = %v, want %v", test.raw, got, test.want)
			}
		})
	}
}

func TestCalibrationRoundTrip(t *testing.T) {
	lim := Limits{AzimuthMin: -1000, AzimuthMax: 1000, ElevationMin: -1000, ElevationMax: 1000}
	for _, scale := range []float64{0.1, 0.5, 1.0, 1.3, 2.0} {
		for _, offset := range []float64{-30, 0, 12.5} {
			cal := Calibration{AzimuthOffset: offset, AzimuthScale: scale, ElevationOffset: offset, ElevationScale: scale}
			for _, raw := range []float64{0, 45, 180, 359.5} {
				display := cal.AzimuthToDisplay(raw, lim)
				back := cal.AzimuthToRaw(display)
				if math.Abs(back-raw) > 1e-9 {
					t.Errorf("round trip raw=%v offset=%v scale=%v: got %v", raw, offset, scale, back)
				}
			}
		}
	}
}

func TestCalibrationBackComputesRaw(t *testing.T) {
	// offset=10, scale=1: raw 45 displays as 55, and commanding display 55
	// produces raw 45 again.
	cal := Calibration{AzimuthOffset: 10, AzimuthScale: 1, ElevationScale: 1}
	if got := cal.AzimuthToDisplay(45, DefaultLimits()); got != 55 {
		t.Errorf("display = %v, want 55", got)
	}
	if got := cal.AzimuthToRaw(55); got != 45 {
		t.Errorf("raw = %v, want 45", got)
	}
}

func TestCalibrationNormalize(t *testing.T) {
	c := Calibration{AzimuthScale: 0, ElevationScale: 5}.Normalize()
	if c.AzimuthScale != 0.1 {
		t.Errorf("AzimuthScale = %v, want 0.1", c.AzimuthScale)
	}
	if c.ElevationScale != 2.0 {
		t.Errorf("ElevationScale = %v, want 2.0", c.ElevationScale)
	}
}

func TestConstrainRaw(t *testing.T) {
	for _, test := range []struct {
		raw, last, rng, want float64
	}{
		{10, 350, 360, 370},
		{350, 10, 360, -10},
		{180, 170, 360, 180},
		{440, 20, 450, -10},
		{30, 30, 360, 30},
		{5, 5, 0, 5},
	} {
		if got := ConstrainRaw(test.raw, test.last, test.rng); got != test.want {
			t.Errorf("ConstrainRaw(%v, %v, %v) = %v, want %v", test.raw, test.last, test.rng, got, test.want)
		}
	}
}
