// devicectld is the devicectl-core server: a generic device-control
// daemon exposing a WebSocket gateway and a read-only admin HTTP API
// over a Generic Command Manager-backed device population.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/devicectl-core/internal/adminapi"
	"github.com/nerrad567/devicectl-core/internal/commanager"
	"github.com/nerrad567/devicectl-core/internal/devicemanager"
	"github.com/nerrad567/devicectl-core/internal/dongle"
	"github.com/nerrad567/devicectl-core/internal/gateway/ws"
	"github.com/nerrad567/devicectl-core/internal/infrastructure/config"
	"github.com/nerrad567/devicectl-core/internal/infrastructure/logging"
	"github.com/nerrad567/devicectl-core/internal/messages"
	"github.com/nerrad567/devicectl-core/internal/telemetry/influx"
	"github.com/nerrad567/devicectl-core/internal/telemetry/mqtt"

	"golang.org/x/sync/errgroup"
)

// Version information, set at build time via ldflags, e.g.:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	fmt.Printf("devicectl-core %s (%s) built %s\n", version, commit, date)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component together and blocks until ctx is cancelled.
// Separated from main for testability.
func run(ctx context.Context) error {
	configPath := "devicectl.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log := logging.New(cfg.Logging)
	log.Info("devicectl-core starting", "version", version)

	mqttPub, err := mqtt.Connect(cfg.Telemetry.MQTT, log)
	if err != nil {
		return fmt.Errorf("connecting to mqtt: %w", err)
	}
	defer mqttPub.Close()

	influxWriter, err := influx.Connect(ctx, cfg.Telemetry.InfluxDB, log)
	if err != nil {
		return fmt.Errorf("connecting to influxdb: %w", err)
	}
	defer influxWriter.Close()

	// Transport backends register here. No concrete HID/BLE connector
	// ships with this core (out of scope, see internal/dongle.Connector);
	// a nil connector runs the dongle state machine in its supported
	// "absent at startup" mode, which still exercises the full
	// Communication Manager contract end to end.
	dongleDriver := dongle.New("dongle", nil, cfg.Server.ChannelBufferSize, log)
	managers := []commanager.Manager{dongleDriver}

	commEvents := make(chan commanager.Event, cfg.Server.ChannelBufferSize)

	hub := ws.NewHub(cfg.Gateway, nil, managers, log)
	hub.SetRecorder(influxWriter)

	broadcaster := multiBroadcaster{hub: hub, mqtt: mqttPub}

	el := devicemanager.New(devicemanager.Config{
		AllowList:         cfg.Devices.AllowList,
		DenyList:          cfg.Devices.DenyList,
		MaxPingIntervalMS: cfg.Server.MaxPingIntervalMS,
		ChannelBufferSize: cfg.Server.ChannelBufferSize,
	}, commEvents, broadcaster, log)
	hub.SetEventLoop(el)

	adminHandler := adminapi.New(el, managers, version)
	adminServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Gateway.Port+1), Handler: adminHandler}

	mux := http.NewServeMux()
	mux.Handle(cfg.Gateway.Path, hub)
	gatewayServer := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port), Handler: mux}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return el.Run(gctx) })
	g.Go(func() error { hub.Run(gctx); return nil })
	g.Go(func() error {
		// An absent dongle is reported once on commEvents and does not
		// stop the other components.
		if err := dongleDriver.Run(gctx, commEvents); err != nil && err != dongle.ErrDongleAbsent {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("gateway listening", "addr", gatewayServer.Addr, "path", cfg.Gateway.Path)
		if err := gatewayServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("gateway server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("admin api listening", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})

	<-gctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	_ = gatewayServer.Shutdown(shutdownCtx)
	_ = adminServer.Shutdown(shutdownCtx)
	close(commEvents)

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error("component stopped with error", "error", err)
	}

	log.Info("devicectl-core stopped")
	return nil
}

const shutdownGrace = 5 * time.Second

// multiBroadcaster fans devicemanager's broadcast events out to both the
// WebSocket gateway and the optional MQTT lifecycle-event publisher.
type multiBroadcaster struct {
	hub  *ws.Hub
	mqtt *mqtt.Publisher
}

func (b multiBroadcaster) Broadcast(msg any) {
	b.hub.Broadcast(msg)
	switch m := msg.(type) {
	case messages.DeviceAdded:
		b.mqtt.PublishDeviceAdded(m)
	case messages.DeviceRemoved:
		b.mqtt.PublishDeviceRemoved(m)
	case messages.ScanningFinished:
		b.mqtt.PublishScanningFinished()
	}
}
