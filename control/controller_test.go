package control

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/gs232b"
	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/rotator"
	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/transport"
)

// newTestRig wires a controller to a fast simulator. setup runs before the
// connect so tests can place the rotor and adjust settings.
func newTestRig(t *testing.T, setup func(sim *gs232b.Simulator, c *Controller)) (*Controller, *gs232b.Simulator) {
	t.Helper()
	sim, conn := gs232b.NewSimulator()
	sim.AzSpeed = 240
	sim.ElSpeed = 240
	c := New()
	c.SetPollInterval(100 * time.Millisecond)
	if setup != nil {
		setup(sim, c)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go sim.Run(ctx)
	if err := c.Connect(transport.NewPipe(conn)); err != nil {
		cancel()
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		c.Disconnect()
		cancel()
	})
	return c, sim
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// waitSettled waits until the simulator azimuth stops changing and returns
// the resting value.
func waitSettled(t *testing.T, sim *gs232b.Simulator, timeout time.Duration) float64 {
	t.Helper()
	deadline := time.Now().Add(timeout)
	last, _ := sim.Position()
	for time.Now().Before(deadline) {
		time.Sleep(300 * time.Millisecond)
		az, _ := sim.Position()
		if az == last {
			return az
		}
		last = az
	}
	t.Fatalf("azimuth never settled, last %v", last)
	return 0
}

func waitStatus(t *testing.T, c *Controller) rotator.Status {
	t.Helper()
	waitFor(t, 3*time.Second, "first status", func() bool {
		_, ok := c.CurrentStatus()
		return ok
	})
	s, _ := c.CurrentStatus()
	return s
}

func TestControllerPollsStatus(t *testing.T) {
	c, _ := newTestRig(t, func(sim *gs232b.Simulator, c *Controller) {
		sim.SetPosition(123, 45)
	})
	waitFor(t, 3*time.Second, "status 123/45", func() bool {
		s, ok := c.CurrentStatus()
		return ok && s.Azimuth == 123 && s.Elevation == 45
	})
	if !c.Healthy(time.Second) {
		t.Error("controller not healthy after status update")
	}
}

func TestControllerDirectMove(t *testing.T) {
	c, sim := newTestRig(t, func(sim *gs232b.Simulator, c *Controller) {
		sim.SetPosition(100, 10)
	})
	waitStatus(t, c)
	if err := c.SetAzEl(140, 30); err != nil {
		t.Fatalf("SetAzEl: %v", err)
	}
	waitFor(t, 5*time.Second, "rotor at 140/30", func() bool {
		az, el := sim.Position()
		return math.Abs(az-140) < 0.5 && math.Abs(el-30) < 0.5
	})
}

func TestControllerElevationKeepsAzimuth(t *testing.T) {
	c, sim := newTestRig(t, func(sim *gs232b.Simulator, c *Controller) {
		sim.SetPosition(100, 10)
	})
	waitStatus(t, c)
	if err := c.SetElevation(50); err != nil {
		t.Fatalf("SetElevation: %v", err)
	}
	waitFor(t, 5*time.Second, "elevation at 50", func() bool {
		_, el := sim.Position()
		return math.Abs(el-50) < 0.5
	})
	if az, _ := sim.Position(); math.Abs(az-100) > 0.5 {
		t.Errorf("azimuth moved to %v during elevation-only command", az)
	}
}

func TestControllerClampsToLimits(t *testing.T) {
	c, sim := newTestRig(t, func(sim *gs232b.Simulator, c *Controller) {
		sim.SetPosition(100, 10)
		if err := c.SetLimits(rotator.Limits{AzimuthMin: 0, AzimuthMax: 180, ElevationMin: 0, ElevationMax: 90}); err != nil {
			t.Fatalf("SetLimits: %v", err)
		}
	})
	waitStatus(t, c)
	if err := c.SetAzimuth(270); err != nil {
		t.Fatalf("SetAzimuth: %v", err)
	}
	waitFor(t, 5*time.Second, "rotor at azimuth limit", func() bool {
		az, _ := sim.Position()
		return math.Abs(az-180) < 0.5
	})
}

func TestControllerOverlapRouting(t *testing.T) {
	c, sim := newTestRig(t, func(sim *gs232b.Simulator, c *Controller) {
		c.SetOverlapPolicy(true)
	})
	if err := c.SetMode(rotator.Mode450); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	// Give the mode command time to reach the simulator before placing
	// the rotor inside the overlap region.
	time.Sleep(300 * time.Millisecond)
	sim.SetPosition(380, 10)
	waitFor(t, 3*time.Second, "status in overlap region", func() bool {
		s, ok := c.CurrentStatus()
		return ok && s.Azimuth == 380
	})
	// Heading 10 is closer as 370 than as 10 from 380.
	if err := c.SetAzimuth(10); err != nil {
		t.Fatalf("SetAzimuth: %v", err)
	}
	waitFor(t, 5*time.Second, "rotor at 370", func() bool {
		az, _ := sim.Position()
		return math.Abs(az-370) < 0.5
	})
}

func TestControllerJogAndStop(t *testing.T) {
	c, sim := newTestRig(t, func(sim *gs232b.Simulator, c *Controller) {
		sim.SetPosition(100, 10)
	})
	waitStatus(t, c)
	if err := c.Control("right"); err != nil {
		t.Fatalf("Control: %v", err)
	}
	waitFor(t, 3*time.Second, "azimuth moving", func() bool {
		az, _ := sim.Position()
		return az > 105
	})
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	az := waitSettled(t, sim, 5*time.Second)
	if az <= 105 || az >= 360 {
		t.Errorf("rotor settled at %v, want between 105 and 360", az)
	}
}

func TestControllerConcurrentTargetsLeaveOneSession(t *testing.T) {
	c, sim := newTestRig(t, func(sim *gs232b.Simulator, c *Controller) {
		sim.SetPosition(100, 10)
		c.SetRamp(testRamp())
	})
	waitStatus(t, c)

	// Hammer the controller from many goroutines. Whatever session wins,
	// stopping it must leave no untracked ramp still driving the rotor.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		az := 60.0
		if i%2 == 1 {
			az = 300
		}
		wg.Add(1)
		go func(az float64) {
			defer wg.Done()
			if err := c.SetAzimuth(az); err != nil {
				t.Errorf("SetAzimuth(%v): %v", az, err)
			}
		}(az)
	}
	wg.Wait()
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	az := waitSettled(t, sim, 10*time.Second)
	time.Sleep(time.Second)
	if got, _ := sim.Position(); math.Abs(got-az) > 0.5 {
		t.Errorf("azimuth drifted from %v to %v after stop", az, got)
	}
}

func TestControllerNotOpen(t *testing.T) {
	c := New()
	if err := c.SetAzimuth(100); !errors.Is(err, rotator.ErrNotOpen) {
		t.Errorf("SetAzimuth while closed = %v, want ErrNotOpen", err)
	}
	if err := c.Control("right"); !errors.Is(err, rotator.ErrNotOpen) {
		t.Errorf("Control while closed = %v, want ErrNotOpen", err)
	}
	if err := c.Stop(); !errors.Is(err, rotator.ErrNotOpen) {
		t.Errorf("Stop while closed = %v, want ErrNotOpen", err)
	}
}

func TestControllerUnknownControl(t *testing.T) {
	c := New()
	err := c.Control("sideways")
	if err == nil {
		t.Fatal("Control(sideways) succeeded")
	}
	if errors.Is(err, rotator.ErrNotOpen) {
		t.Errorf("unknown token reported as ErrNotOpen: %v", err)
	}
}

func TestControllerDisconnectClearsStatus(t *testing.T) {
	c, _ := newTestRig(t, func(sim *gs232b.Simulator, c *Controller) {
		sim.SetPosition(123, 45)
	})
	waitStatus(t, c)
	c.Disconnect()
	if _, ok := c.CurrentStatus(); ok {
		t.Error("status survived disconnect")
	}
	if c.Healthy(time.Minute) {
		t.Error("controller healthy after disconnect")
	}
	if err := c.SetAzimuth(100); !errors.Is(err, rotator.ErrNotOpen) {
		t.Errorf("SetAzimuth after disconnect = %v, want ErrNotOpen", err)
	}
}

func TestControllerStatusListener(t *testing.T) {
	got := make(chan rotator.Status, 1)
	c, _ := newTestRig(t, func(sim *gs232b.Simulator, c *Controller) {
		sim.SetPosition(42, 7)
		c.OnStatus(func(s rotator.Status) {
			select {
			case got <- s:
			default:
			}
		})
	})
	defer c.Disconnect()
	select {
	case s := <-got:
		if s.Azimuth != 42 || s.Elevation != 7 {
			t.Errorf("listener got %+v, want az 42 el 7", s)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("status listener never called")
	}
}
