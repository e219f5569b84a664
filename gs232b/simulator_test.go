package gs232b

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"
)

func startSimulator(t *testing.T) (*Simulator, *bufio.Scanner, func(string)) {
	t.Helper()
	sim, conn := NewSimulator()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sim.Run(ctx)

	scanner := bufio.NewScanner(conn)
	scanner.Split(scanLines)
	send := func(cmd string) {
		if _, err := fmt.Fprintf(conn, "%s\r", cmd); err != nil {
			t.Fatalf("writing %q: %v", cmd, err)
		}
	}
	return sim, scanner, send
}

func pollAzEl(t *testing.T, scanner *bufio.Scanner, send func(string)) (az, el float64) {
	t.Helper()
	send(CmdPollAzEl)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r, ok := ParseStatusLine(line)
		if !ok {
			continue
		}
		return r.Azimuth, r.Elevation
	}
	t.Fatalf("no status line: %v", scanner.Err())
	return 0, 0
}

func TestSimulatorAnswersPolls(t *testing.T) {
	sim, scanner, send := startSimulator(t)
	sim.SetPosition(123, 45)

	az, el := pollAzEl(t, scanner, send)
	if az != 123 || el != 45 {
		t.Errorf("poll returned az=%v el=%v, want 123, 45", az, el)
	}
}

func TestSimulatorMovesTowardTarget(t *testing.T) {
	sim, scanner, send := startSimulator(t)
	sim.AzSpeed = 400
	sim.ElSpeed = 400
	send("W090 030")

	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-deadline:
			az, el := sim.Position()
			t.Fatalf("simulator never reached target, at az=%v el=%v", az, el)
		default:
		}
		az, el := pollAzEl(t, scanner, send)
		if az == 90 && el == 30 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSimulatorHeldDirectionStopsAtLimit(t *testing.T) {
	sim, scanner, send := startSimulator(t)
	sim.SetPosition(358, 0)
	sim.AzSpeed = 400
	send(CmdRight)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("never reached the end stop")
		default:
		}
		az, _ := pollAzEl(t, scanner, send)
		if az == 360 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	// Position must hold at the end stop.
	time.Sleep(100 * time.Millisecond)
	if az, _ := sim.Position(); az != 360 {
		t.Errorf("moved past end stop: az=%v", az)
	}
}

func TestSimulatorStopHaltsMotion(t *testing.T) {
	sim, _, send := startSimulator(t)
	sim.AzSpeed = 50
	send("M180")
	time.Sleep(200 * time.Millisecond)
	send(CmdStopAll)
	time.Sleep(100 * time.Millisecond)
	az1, _ := sim.Position()
	time.Sleep(200 * time.Millisecond)
	az2, _ := sim.Position()
	if az1 == 0 {
		t.Fatal("rotor never moved")
	}
	if math.Abs(az2-az1) > 1e-9 {
		t.Errorf("rotor moved after stop: %v -> %v", az1, az2)
	}
}

func TestSimulatorModeSwitch(t *testing.T) {
	sim, scanner, send := startSimulator(t)
	send(CmdMode450)
	sim.SetPosition(360, 0)
	sim.AzSpeed = 400
	send(CmdRight)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("never passed 360 in 450 mode")
		default:
		}
		az, _ := pollAzEl(t, scanner, send)
		if az > 400 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}
