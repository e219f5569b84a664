package transport

import (
	"github.com/tarm/serial"

	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/rotator"
)

// Serial is a rotator.Transport over a serial port.
type Serial struct {
	guard
	name string
	baud int

	port   *serial.Port
	reader *reader
}

func NewSerial(name string, baud int) *Serial {
	if baud == 0 {
		baud = 9600
	}
	return &Serial{name: name, baud: baud}
}

func (s *Serial) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return nil
	}
	port, err := serial.OpenPort(&serial.Config{Name: s.name, Baud: s.baud})
	if err != nil {
		return err
	}
	s.port = port
	s.reader = newReader()
	s.open = true
	go s.reader.run(port)
	return nil
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open = false
	err := s.port.Close()
	s.port = nil
	return err
}

func (s *Serial) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return rotator.ErrNotOpen
	}
	_, err := s.port.Write([]byte(line + terminator))
	return err
}

func (s *Serial) Lines() <-chan string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return nil
	}
	return s.reader.lines
}

func (s *Serial) Errs() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return nil
	}
	return s.reader.errs
}
