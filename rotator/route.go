package rotator

import "math"

// FullRevolution is the physical period of the azimuth sensor. In 450°
// mode the headings 0..90 are addressable at both ends of travel, offset
// by one revolution. The mode range is the travel span, not the period.
const FullRevolution = 360.0

// Plan is a planned azimuth move in calibrated degrees.
type Plan struct {
	// Target is the selected numeric representation of the requested
	// heading.
	Target    float64
	Delta     float64
	Direction Direction
	// UsesWrap reports that the move crosses the wrap boundary or uses an
	// overlap representation past 360.
	UsesWrap bool
}

// Router computes the shortest legal azimuth path under soft limits and the
// configured wraparound modulus.
//
// Rotators behave as modular position sensors: a naive subtraction would
// sometimes command a 350° excursion instead of the equivalent 10° move the
// other way. The candidate search below considers every in-limits numeric
// representation of the requested heading and keeps the one with the
// smallest rotation from the current position.
type Router struct {
	Limits Limits
	Mode   Mode
	// PermissiveOverlap raises the effective azimuth maximum to 450 in
	// 450° mode, allowing positions past 360 even when the configured
	// limit is lower. Boundary policy at az=360 differs between rotor
	// firmwares, so it is configurable rather than fixed.
	PermissiveOverlap bool
}

// EffectiveMax is the azimuth maximum after applying the overlap policy.
func (r Router) EffectiveMax() float64 {
	if r.Mode == Mode450 && r.PermissiveOverlap {
		return math.Max(r.Limits.AzimuthMax, 450)
	}
	return r.Limits.AzimuthMax
}

// candidates are the in-limits numeric representations of a heading.
// Overlap representations sit one physical revolution apart, regardless of
// the mode range.
func (r Router) candidates(v, min, max float64) []float64 {
	out := []float64{v}
	if c := v + FullRevolution; c >= min && c <= max {
		out = append(out, c)
	}
	if c := v - FullRevolution; c >= min && c <= max {
		out = append(out, c)
	}
	return out
}

// Plan picks the shortest rotation from current to target, both in
// calibrated degrees.
func (r Router) Plan(current, target float64) Plan {
	rng := r.Mode.Degrees()
	min := r.Limits.AzimuthMin
	max := r.EffectiveMax()

	current = Clamp(current, min, max)
	target = Clamp(target, min, max)
	naive := target - current

	// The axis is bounded, so the representation closest in linear travel
	// wins; the reported delta is the angular shortest path to it.
	var best Plan
	first := true
	for _, t := range r.candidates(target, min, max) {
		if first || math.Abs(t-current) < math.Abs(best.Target-current) {
			best.Target = t
			first = false
		}
	}
	best.Delta = ShortestAngularDelta(best.Target, current, rng)

	switch {
	case best.Delta > 0:
		best.Direction = CW
	case best.Delta < 0:
		best.Direction = CCW
	}
	best.UsesWrap = math.Abs(math.Abs(best.Delta)-math.Abs(naive)) > 1e-9 ||
		best.Target > 360 || current > 360
	return best
}

// WireAzimuth reduces a raw azimuth command into [0, rng] for transmission.
// Values already inside the wire range pass through unchanged; the end stop
// at rng is a valid command. The hardware drives linearly toward the numeric
// target, so a reduction can flip the rotation direction seen from the last
// known raw position; if it does, the representation one revolution away is
// used instead.
func WireAzimuth(rawTarget, lastRaw, rng float64, dir Direction) float64 {
	v := rawTarget
	if v < 0 || v > rng {
		v = WrapAzimuth(v, rng)
	}
	if dir == Hold || impliedDirection(v, lastRaw) == dir {
		return v
	}
	for _, cand := range []float64{v + FullRevolution, v - FullRevolution} {
		if cand >= 0 && cand <= rng && impliedDirection(cand, lastRaw) == dir {
			return cand
		}
	}
	return v
}

// impliedDirection is the direction a bounded linear actuator would move
// from current to target.
func impliedDirection(target, current float64) Direction {
	switch {
	case target > current:
		return CW
	case target < current:
		return CCW
	}
	return Hold
}
