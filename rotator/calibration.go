package rotator

import "math"

// Calibration maps between raw hardware degrees and calibrated display
// degrees: display = (raw + offset) / scale.
type Calibration struct {
	AzimuthOffset   float64 `yaml:"azimuth_offset" json:"azimuthOffset"`
	ElevationOffset float64 `yaml:"elevation_offset" json:"elevationOffset"`
	AzimuthScale    float64 `yaml:"azimuth_scale" json:"azimuthScale"`
	ElevationScale  float64 `yaml:"elevation_scale" json:"elevationScale"`
}

func DefaultCalibration() Calibration {
	return Calibration{AzimuthScale: 1, ElevationScale: 1}
}

const (
	minScale = 0.1
	maxScale = 2.0
)

// Normalize clamps the scale factors into [0.1, 2.0]. A zero scale (e.g. an
// unset config field) would divide by zero, so it clamps up to the minimum.
func (c Calibration) Normalize() Calibration {
	c.AzimuthScale = Clamp(c.AzimuthScale, minScale, maxScale)
	c.ElevationScale = Clamp(c.ElevationScale, minScale, maxScale)
	return c
}

// AzimuthToDisplay converts a raw azimuth reading to calibrated degrees,
// clamped to the given limits.
func (c Calibration) AzimuthToDisplay(raw float64, lim Limits) float64 {
	scale := Clamp(c.AzimuthScale, minScale, maxScale)
	return Clamp((raw+c.AzimuthOffset)/scale, lim.AzimuthMin, lim.AzimuthMax)
}

// ElevationToDisplay converts a raw elevation reading to calibrated degrees,
// clamped to the given limits.
func (c Calibration) ElevationToDisplay(raw float64, lim Limits) float64 {
	scale := Clamp(c.ElevationScale, minScale, maxScale)
	return Clamp((raw+c.ElevationOffset)/scale, lim.ElevationMin, lim.ElevationMax)
}

// AzimuthToRaw converts a calibrated azimuth to the raw hardware value.
func (c Calibration) AzimuthToRaw(display float64) float64 {
	scale := Clamp(c.AzimuthScale, minScale, maxScale)
	return display*scale - c.AzimuthOffset
}

// ElevationToRaw converts a calibrated elevation to the raw hardware value.
func (c Calibration) ElevationToRaw(display float64) float64 {
	scale := Clamp(c.ElevationScale, minScale, maxScale)
	return display*scale - c.ElevationOffset
}

// ConstrainRaw shifts raw by whole revolutions of rng to the representation
// nearest lastRaw, so clamping arithmetic on consecutive commands never
// costs an extra revolution.
func ConstrainRaw(raw, lastRaw, rng float64) float64 {
	if rng <= 0 {
		return raw
	}
	best := raw
	for _, cand := range []float64{raw - rng, raw + rng} {
		if math.Abs(cand-lastRaw) < math.Abs(best-lastRaw) {
			best = cand
		}
	}
	return best
}
