package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/control"
	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/internal/config"
	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/rotator"
	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/routes"
)

// Status is the payload pushed to every websocket client and served at
// /api/status.
type Status struct {
	Connected   bool                `json:"connected"`
	Healthy     bool                `json:"healthy"`
	HasPosition bool                `json:"hasPosition"`
	Position    rotator.Status      `json:"position"`
	Mode        int                 `json:"mode"`
	Limits      rotator.Limits      `json:"limits"`
	Calibration rotator.Calibration `json:"calibration"`
	Speed       rotator.Speed       `json:"speed"`
	Ramp        rotator.Ramp        `json:"ramp"`
	Route       *routes.Progress    `json:"route,omitempty"`
}

// Command is one inbound websocket message.
type Command struct {
	Command   string  `json:"command"`
	Azimuth   float64 `json:"azimuth"`
	Elevation float64 `json:"elevation"`
	Direction string  `json:"direction"`
	Mode      int     `json:"mode"`

	Limits      *rotator.Limits      `json:"limits,omitempty"`
	Calibration *rotator.Calibration `json:"calibration,omitempty"`
	Speed       *rotator.Speed       `json:"speed,omitempty"`
	Ramp        *rotator.Ramp        `json:"ramp,omitempty"`

	Route *routes.Route `json:"route,omitempty"`
	Name  string        `json:"name,omitempty"`
}

type Server struct {
	mu      sync.Mutex
	ctrl    *control.Controller
	exec    *routes.Executor
	cfg     config.Config
	cfgPath string

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	status     Status
	route      *routes.Progress
}

func NewServer(ctrl *control.Controller, exec *routes.Executor, cfg config.Config, cfgPath string) *Server {
	s := &Server{ctrl: ctrl, exec: exec, cfg: cfg, cfgPath: cfgPath}
	s.statusCond = sync.NewCond(s.statusMu.RLocker())
	ctrl.OnStatus(func(rotator.Status) { s.refreshStatus() })
	exec.OnProgress(func(p routes.Progress) {
		s.statusMu.Lock()
		s.route = &p
		s.statusMu.Unlock()
		s.refreshStatus()
	})
	// Keep the connected/healthy flags moving even when the rotor is
	// quiet.
	go func() {
		for range time.Tick(time.Second) {
			s.refreshStatus()
		}
	}()
	s.refreshStatus()
	return s
}

func (s *Server) refreshStatus() {
	pos, havePos := s.ctrl.CurrentStatus()
	status := Status{
		Connected:   s.ctrl.IsConnected(),
		Healthy:     s.ctrl.Healthy(healthWindow),
		HasPosition: havePos,
		Position:    pos,
		Mode:        int(s.ctrl.Mode()),
		Limits:      s.ctrl.Limits(),
		Calibration: s.ctrl.Calibration(),
		Speed:       s.ctrl.Speed(),
		Ramp:        s.ctrl.Ramp(),
	}
	s.statusMu.Lock()
	status.Route = s.route
	s.status = status
	s.statusMu.Unlock()
	s.statusCond.Broadcast()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	s.statusMu.RLock()
	status := s.status
	s.statusMu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Print(err)
	}
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		defer conn.Close()
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if err := s.handleCommand(msg); err != nil {
				log.Printf("ws command %q: %v", msg.Command, err)
			}
		}
	}()

	send := func(status Status) bool {
		data, err := json.Marshal(status)
		if err != nil {
			log.Print(err)
			return false
		}
		return conn.WriteMessage(websocket.TextMessage, data) == nil
	}

	s.statusMu.RLock()
	status := s.status
	s.statusMu.RUnlock()
	if !send(status) {
		return
	}
	for {
		s.statusMu.RLock()
		s.statusCond.Wait()
		status := s.status
		s.statusMu.RUnlock()
		select {
		case <-closed:
			return
		default:
		}
		if !send(status) {
			return
		}
	}
}

func (s *Server) handleCommand(msg Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch msg.Command {
	case "set_azimuth":
		return s.ctrl.SetAzimuth(msg.Azimuth)
	case "set_elevation":
		return s.ctrl.SetElevation(msg.Elevation)
	case "set_az_el":
		return s.ctrl.SetAzEl(msg.Azimuth, msg.Elevation)
	case "set_az_el_raw":
		return s.ctrl.SetAzElRaw(msg.Azimuth, msg.Elevation)
	case "control":
		return s.ctrl.Control(msg.Direction)
	case "stop":
		s.exec.Stop()
		return s.ctrl.Stop()
	case "set_mode":
		mode := rotator.Mode360
		if msg.Mode == 450 {
			mode = rotator.Mode450
		}
		if err := s.ctrl.SetMode(mode); err != nil {
			return err
		}
		s.cfg.Mode = int(mode)
		return s.persist()
	case "set_settings":
		return s.applySettings(msg)
	case "route_start":
		route, err := s.findRoute(msg)
		if err != nil {
			return err
		}
		return s.exec.Start(route)
	case "route_stop":
		s.exec.Stop()
		return nil
	case "route_continue":
		s.exec.Continue()
		return nil
	}
	log.Printf("unknown command %q", msg.Command)
	return nil
}

// applySettings updates any settings present in the message and persists
// the result.
func (s *Server) applySettings(msg Command) error {
	if msg.Limits != nil {
		if err := s.ctrl.SetLimits(*msg.Limits); err != nil {
			return err
		}
		s.cfg.Limits = *msg.Limits
	}
	if msg.Calibration != nil {
		s.ctrl.SetCalibration(*msg.Calibration)
		s.cfg.Calibration = msg.Calibration.Normalize()
	}
	if msg.Speed != nil {
		if err := s.ctrl.SetSpeed(*msg.Speed); err != nil {
			return err
		}
		s.cfg.Speed = *msg.Speed
	}
	if msg.Ramp != nil {
		s.ctrl.SetRamp(*msg.Ramp)
		s.cfg.Ramp = msg.Ramp.Normalize()
	}
	defer s.refreshStatus()
	return s.persist()
}

// findRoute resolves a route either inline or by name from the config.
func (s *Server) findRoute(msg Command) (routes.Route, error) {
	if msg.Route != nil {
		return *msg.Route, nil
	}
	for _, r := range s.cfg.Routes {
		if r.Name == msg.Name {
			return r, nil
		}
	}
	return routes.Route{}, fmt.Errorf("unknown route %q", msg.Name)
}

func (s *Server) persist() error {
	if s.cfgPath == "" {
		return nil
	}
	return config.Save(s.cfgPath, s.cfg)
}
