// Package config loads and persists the rotord settings file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/rotator"
	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/routes"
)

type Serial struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

type Server struct {
	HTTPAddr    string `yaml:"http_addr"`
	RotctldAddr string `yaml:"rotctld_addr"`
}

type Config struct {
	Serial   Serial `yaml:"serial"`
	Server   Server `yaml:"server"`
	Simulate bool   `yaml:"simulate"`

	// Mode is the azimuth wraparound modulus, 360 or 450.
	Mode              int           `yaml:"mode"`
	PermissiveOverlap bool          `yaml:"permissive_overlap"`
	PollInterval      time.Duration `yaml:"poll_interval"`

	Limits      rotator.Limits      `yaml:"limits"`
	Calibration rotator.Calibration `yaml:"calibration"`
	Speed       rotator.Speed       `yaml:"speed"`
	Ramp        rotator.Ramp        `yaml:"ramp"`

	Routes []routes.Route `yaml:"routes,omitempty"`
}

func Default() Config {
	return Config{
		Serial:       Serial{Port: "/dev/ttyUSB0", Baud: 9600},
		Server:       Server{HTTPAddr: ":8080", RotctldAddr: ":4533"},
		Mode:         360,
		PollInterval: 500 * time.Millisecond,
		Limits:       rotator.DefaultLimits(),
		Calibration:  rotator.DefaultCalibration(),
		Speed:        rotator.DefaultSpeed(),
		Ramp:         rotator.DefaultRamp(),
	}
}

// Load reads the YAML file at path on top of the defaults. A missing file
// is not an error; the defaults are returned.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parsing config: %w", err)
	}
	return c.Normalize()
}

// Save writes the config as YAML, so settings changed at runtime survive a
// restart.
func Save(path string, c Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Normalize validates the hard constraints and clamps everything else into
// its safe range.
func (c Config) Normalize() (Config, error) {
	if err := c.Limits.Validate(); err != nil {
		return c, err
	}
	switch c.Mode {
	case 360, 450:
	case 0:
		c.Mode = 360
	default:
		return c, fmt.Errorf("config: mode %d is not 360 or 450", c.Mode)
	}
	if c.Serial.Baud <= 0 {
		c.Serial.Baud = 9600
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	c.Calibration = c.Calibration.Normalize()
	c.Ramp = c.Ramp.Normalize()
	if c.Speed.AzimuthDegPerSec <= 0 {
		c.Speed.AzimuthDegPerSec = rotator.DefaultSpeed().AzimuthDegPerSec
	}
	if c.Speed.ElevationDegPerSec <= 0 {
		c.Speed.ElevationDegPerSec = rotator.DefaultSpeed().ElevationDegPerSec
	}
	return c, nil
}

// RotatorMode converts the numeric setting.
func (c Config) RotatorMode() rotator.Mode {
	if c.Mode == 450 {
		return rotator.Mode450
	}
	return rotator.Mode360
}
