// Command rotord drives a GS-232B rotor controller over a serial port (or
// a built-in simulator) and exposes it over HTTP, websocket and the
// rotctld wire protocol.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/control"
	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/gs232b"
	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/internal/config"
	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/rotator"
	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/routes"
	"github.com/timbornemann/Rotor-Interface-GS232B-sub000/transport"
)

var (
	configPath  = flag.String("config", "rotord.yaml", "path to the config file")
	serialPort  = flag.String("port", "", "serial port, overrides the config")
	listenAddr  = flag.String("listen", "", "HTTP listen address, overrides the config")
	rotctldAddr = flag.String("rotctld", "", "rotctld listen address, overrides the config")
	simulate    = flag.Bool("sim", false, "use the built-in simulator instead of hardware")
	staticDir   = flag.String("static", "", "directory of static files to serve at /")
)

const (
	healthWindow  = 10 * time.Second
	reconnectWait = 5 * time.Second
)

func main() {
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading %s: %v", *configPath, err)
	}
	if *serialPort != "" {
		cfg.Serial.Port = *serialPort
	}
	if *listenAddr != "" {
		cfg.Server.HTTPAddr = *listenAddr
	}
	if *rotctldAddr != "" {
		cfg.Server.RotctldAddr = *rotctldAddr
	}
	if *simulate {
		cfg.Simulate = true
	}

	ctx := context.Background()

	ctrl := control.New()
	applySettings(ctrl, cfg)

	newTransport := func() rotator.Transport {
		if cfg.Simulate {
			sim, conn := gs232b.NewSimulator()
			go func() {
				if err := sim.Run(ctx); err != nil {
					log.Printf("simulator: %v", err)
				}
			}()
			return transport.NewPipe(conn)
		}
		return transport.NewSerial(cfg.Serial.Port, cfg.Serial.Baud)
	}
	if err := connect(ctrl, cfg, newTransport()); err != nil {
		log.Printf("initial connect: %v", err)
	}
	go reconnectLoop(ctrl, cfg, newTransport)

	exec := routes.NewExecutor(ctrl)
	srv := NewServer(ctrl, exec, cfg, *configPath)

	if err := srv.ListenRotctld(ctx, cfg.Server.RotctldAddr); err != nil {
		log.Fatalf("rotctld listener: %v", err)
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/status", srv.StatusHandler)
	r.HandleFunc("/api/ws", srv.StatusSocketHandler)
	if *staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(*staticDir)))
	}
	httpSrv := &http.Server{
		Handler:      r,
		Addr:         cfg.Server.HTTPAddr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	log.Printf("listening on %s", cfg.Server.HTTPAddr)
	log.Fatal(httpSrv.ListenAndServe())
}

// applySettings pushes the stored settings into the controller.
func applySettings(ctrl *control.Controller, cfg config.Config) {
	if err := ctrl.SetLimits(cfg.Limits); err != nil {
		log.Fatalf("limits: %v", err)
	}
	ctrl.SetCalibration(cfg.Calibration)
	ctrl.SetRamp(cfg.Ramp)
	ctrl.SetOverlapPolicy(cfg.PermissiveOverlap)
	ctrl.SetPollInterval(cfg.PollInterval)
}

// connect opens the transport and programs mode and speed stages, which
// only reach the hardware while connected.
func connect(ctrl *control.Controller, cfg config.Config, t rotator.Transport) error {
	if err := ctrl.Connect(t); err != nil {
		return err
	}
	if err := ctrl.SetMode(cfg.RotatorMode()); err != nil {
		return err
	}
	return ctrl.SetSpeed(cfg.Speed)
}

// reconnectLoop reopens the link whenever the hardware goes quiet.
func reconnectLoop(ctrl *control.Controller, cfg config.Config, newTransport func() rotator.Transport) {
	for range time.Tick(reconnectWait) {
		if ctrl.IsConnected() && ctrl.Healthy(healthWindow) {
			continue
		}
		log.Printf("link unhealthy, reconnecting")
		if err := connect(ctrl, cfg, newTransport()); err != nil {
			log.Printf("reconnect: %v", err)
		}
	}
}
