// Package transport provides concrete line transports for the rotor link:
// a serial port for real hardware and an in-memory pipe for the simulator.
package transport

import (
	"bufio"
	"io"
	"strings"
	"sync"

	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/rotator"
)

// scanCRLF splits on CR or LF, matching the GS-232B line discipline.
func scanCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\r' || b == '\n' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// line is the wire terminator for outbound commands.
const terminator = "\r"

// reader pumps received lines into the Lines channel until the underlying
// connection fails or closes, then closes both channels.
type reader struct {
	lines chan string
	errs  chan error
}

func newReader() *reader {
	return &reader{
		lines: make(chan string, 16),
		errs:  make(chan error, 1),
	}
}

func (r *reader) run(rc io.Reader) {
	scanner := bufio.NewScanner(rc)
	scanner.Split(scanCRLF)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r.lines <- line
	}
	if err := scanner.Err(); err != nil {
		r.errs <- err
	}
	close(r.lines)
	close(r.errs)
}

// guard implements the shared open/closed bookkeeping.
type guard struct {
	mu   sync.Mutex
	open bool
}

func (g *guard) setOpen(open bool) {
	g.mu.Lock()
	g.open = open
	g.mu.Unlock()
}

func (g *guard) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

var _ rotator.Transport = (*Serial)(nil)
var _ rotator.Transport = (*Pipe)(nil)
