package transport

import (
	"net"
	"testing"
	"time"

	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/rotator"
)

func TestPipeRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	p := NewPipe(b)
	if err := p.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	// Peer consumes one command line.
	written := make(chan string, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := a.Read(buf)
		written <- string(buf[:n])
	}()
	if err := p.WriteLine("C2"); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	select {
	case got := <-written:
		if got != "C2\r" {
			t.Errorf("wire bytes = %q, want %q", got, "C2\r")
		}
	case <-time.After(time.Second):
		t.Fatal("write never reached the peer")
	}

	// Peer sends a status line back; CR, LF and blanks are stripped.
	go a.Write([]byte("\r\nAZ=123  EL=045\r\n"))
	select {
	case line := <-p.Lines():
		if line != "AZ=123  EL=045" {
			t.Errorf("line = %q", line)
		}
	case <-time.After(time.Second):
		t.Fatal("no line received")
	}
}

func TestPipeClosedWrites(t *testing.T) {
	_, b := net.Pipe()
	p := NewPipe(b)
	if err := p.WriteLine("C"); err != rotator.ErrNotOpen {
		t.Errorf("WriteLine before Open = %v, want ErrNotOpen", err)
	}
	if err := p.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !p.IsOpen() {
		t.Error("IsOpen = false after Open")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if p.IsOpen() {
		t.Error("IsOpen = true after Close")
	}
	if err := p.WriteLine("C"); err != rotator.ErrNotOpen {
		t.Errorf("WriteLine after Close = %v, want ErrNotOpen", err)
	}
}

func TestPipeLinesClosedOnPeerClose(t *testing.T) {
	a, b := net.Pipe()
	p := NewPipe(b)
	if err := p.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()
	a.Close()
	select {
	case _, ok := <-p.Lines():
		if ok {
			t.Error("expected closed lines channel")
		}
	case <-time.After(time.Second):
		t.Fatal("lines channel never closed")
	}
}
