package transport

import (
	"net"

	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/rotator"
)

// Pipe is a rotator.Transport over an in-memory connection, used to attach
// the controller to the gs232b simulator.
type Pipe struct {
	guard
	conn   net.Conn
	reader *reader
}

func NewPipe(conn net.Conn) *Pipe {
	return &Pipe{conn: conn}
}

func (p *Pipe) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open {
		return nil
	}
	p.reader = newReader()
	p.open = true
	go p.reader.run(p.conn)
	return nil
}

func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return nil
	}
	p.open = false
	return p.conn.Close()
}

func (p *Pipe) WriteLine(line string) error {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return rotator.ErrNotOpen
	}
	conn := p.conn
	p.mu.Unlock()
	// net.Pipe writes block until the peer reads; holding the lock here
	// would stall IsOpen and Close.
	_, err := conn.Write([]byte(line + terminator))
	return err
}

func (p *Pipe) Lines() <-chan string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reader == nil {
		return nil
	}
	return p.reader.lines
}

func (p *Pipe) Errs() <-chan error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reader == nil {
		return nil
	}
	return p.reader.errs
}
