// Package gs232b implements the Yaesu GS-232B rotor protocol: command
// encoding, status-line parsing, and a paced command sender.
package gs232b

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
)

// Protocol reference: Yaesu GS-232B operating manual (command set V1.2).

// Single-letter command tokens.
const (
	CmdRight         = "R"
	CmdLeft          = "L"
	CmdUp            = "U"
	CmdDown          = "D"
	CmdStopAzimuth   = "A"
	CmdStopElevation = "E"
	CmdStopAll       = "S"
	CmdPollAzimuth   = "C"
	CmdPollAzEl      = "C2"
	CmdPollElevation = "B"
	CmdMode360       = "P36"
	CmdMode450       = "P45"
)

// MoveAzimuth encodes an azimuth-only position command. The value is
// expected to already be reduced into the wire range.
func MoveAzimuth(deg float64) string {
	return fmt.Sprintf("M%03d", int(math.Round(deg)))
}

// MoveAzEl encodes a combined azimuth+elevation position command.
func MoveAzEl(az, el float64) string {
	return fmt.Sprintf("W%03d %03d", int(math.Round(az)), int(math.Round(el)))
}

// Extended encodes a vendor-specific extended command: "s", a short letter
// code, and a numeric payload.
func Extended(code string, payload int) string {
	return fmt.Sprintf("s%s%d", code, payload)
}

// Extended command codes used by the speed stage setup.
const (
	CodeSpeedLow    = "VL" // low speed stage
	CodeSpeedHigh   = "VH" // high speed stage
	CodeSwitchAngle = "VA" // stage switch-over angle code
)

// directionTokens maps abstract direction names and bare protocol tokens to
// protocol tokens.
var directionTokens = map[string]string{
	"left":  CmdLeft,
	"right": CmdRight,
	"up":    CmdUp,
	"down":  CmdDown,
	CmdLeft:  CmdLeft,
	CmdRight: CmdRight,
	CmdUp:    CmdUp,
	CmdDown:  CmdDown,
}

// NormalizeControl maps an abstract direction ("left", "right", "up",
// "down") or a bare protocol token to its protocol token.
func NormalizeControl(token string) (string, bool) {
	cmd, ok := directionTokens[token]
	return cmd, ok
}

// IsAzimuthToken reports whether the direction token drives the azimuth
// axis.
func IsAzimuthToken(token string) bool {
	return token == CmdRight || token == CmdLeft
}

// TokenSign is +1 for clockwise/up tokens and -1 for the opposite.
func TokenSign(token string) float64 {
	if token == CmdRight || token == CmdUp {
		return 1
	}
	return -1
}

// StopToken returns the stop command matching a direction token.
func StopToken(direction string) string {
	if IsAzimuthToken(direction) {
		return CmdStopAzimuth
	}
	return CmdStopElevation
}

var (
	azimuthRE   = regexp.MustCompile(`(?i)AZ\s*=\s*(\d+)`)
	elevationRE = regexp.MustCompile(`(?i)EL\s*=\s*(\d+)`)
)

// Reading is one parsed status line, in raw hardware degrees.
type Reading struct {
	Azimuth      float64
	Elevation    float64
	HasAzimuth   bool
	HasElevation bool
}

// ParseStatusLine extracts AZ=ddd / EL=ddd readings from a status line.
// Lines carrying neither are not an error; ok is simply false.
func ParseStatusLine(line string) (Reading, bool) {
	var r Reading
	if m := azimuthRE.FindStringSubmatch(line); m != nil {
		v, err := strconv.Atoi(m[1])
		if err == nil {
			r.Azimuth = float64(v)
			r.HasAzimuth = true
		}
	}
	if m := elevationRE.FindStringSubmatch(line); m != nil {
		v, err := strconv.Atoi(m[1])
		if err == nil {
			r.Elevation = float64(v)
			r.HasElevation = true
		}
	}
	return r, r.HasAzimuth || r.HasElevation
}
