package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
)

// ListenRotctld serves the hamlib rotctld wire protocol, so existing
// tracking software can steer the rotor.
func (s *Server) ListenRotctld(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		log.Print("shutdown; closing rotctld socket")
		ln.Close()
	}()
	go func() {
		for ctx.Err() == nil {
			conn, err := ln.Accept()
			if err != nil {
				log.Printf("failed to accept: %v", err)
				continue
			}
			go s.handleRotctld(conn)
		}
	}()
	return nil
}

func (s *Server) handleRotctld(conn net.Conn) {
	defer conn.Close()
	log.Printf("accepted rotctld connection from %v", conn.RemoteAddr())
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		// Two forms of command: single character, or "+\" followed by
		// the command name.
		cmd := scanner.Text()
		var args []string
		var extended bool
		if len(cmd) == 0 {
			continue
		} else if len(cmd) > 2 && cmd[0:2] == `+\` {
			extended = true
			parts := strings.Split(cmd, " ")
			cmd = parts[0][2:]
			if len(parts) > 1 {
				args = parts[1:]
			}
			fmt.Fprintf(conn, "%s:\n", cmd)
		} else {
			// Space after the command letter is optional.
			if len(cmd) > 1 {
				args = strings.Fields(strings.TrimLeft(cmd[1:], " "))
			}
			cmd = string(cmd[0])
		}
		rprt := -1
		switch cmd {
		case "1", "dump_caps":
			limits := s.ctrl.Limits()
			fmt.Fprintf(conn, `Model name: GS-232B
Mfg name: Yaesu
Rot type: Az-El
Min Azimuth: %.2f
Max Azimuth: %.2f
Min Elevation: %.2f
Max Elevation: %.2f
Can set Position: Y
Can get Position: Y
Can Stop: Y
Can Park: N
Can Reset: N
Can Move: Y
Can get Info: N
`, limits.AzimuthMin, limits.AzimuthMax, limits.ElevationMin, limits.ElevationMax)
			rprt = 0
		case "S", "stop":
			extended = true // always print RPRT
			s.exec.Stop()
			if err := s.ctrl.Stop(); err == nil {
				rprt = 0
			}
		case "P", "set_pos":
			extended = true // always print RPRT
			if len(args) != 2 {
				rprt = -22
				break
			}
			az, errAz := strconv.ParseFloat(args[0], 64)
			el, errEl := strconv.ParseFloat(args[1], 64)
			if errAz != nil || errEl != nil {
				rprt = -22
				break
			}
			// rotctl uses -180..180; fold into compass degrees.
			if az < 0 {
				az += 360
			}
			if err := s.ctrl.SetAzEl(az, el); err == nil {
				rprt = 0
			}
		case "M", "move":
			extended = true // always print RPRT
			if len(args) != 2 {
				rprt = -22
				break
			}
			dir, err := strconv.Atoi(args[0])
			if err != nil {
				rprt = -22
				break
			}
			token := map[int]string{2: "up", 4: "down", 8: "left", 16: "right"}[dir]
			if token == "" {
				rprt = -22
				break
			}
			if err := s.ctrl.Control(token); err == nil {
				rprt = 0
			}
		case "p", "get_pos":
			status, ok := s.ctrl.CurrentStatus()
			if !ok {
				break
			}
			az := status.Azimuth
			if az > 180 {
				az -= 360
			}
			if extended {
				fmt.Fprintf(conn, "Azimuth: %.6f\nElevation: %.6f\n", az, status.Elevation)
			} else {
				fmt.Fprintf(conn, "%.6f\n%.6f\n", az, status.Elevation)
			}
			rprt = 0
		case "q", "quit":
			fmt.Fprintf(conn, "RPRT 0\n")
			return
		}
		if extended || rprt != 0 {
			fmt.Fprintf(conn, "RPRT %d\n", rprt)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("reading from %v: %v", conn.RemoteAddr(), err)
	}
}
