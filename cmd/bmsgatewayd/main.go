// Command bmsgatewayd is the BMS gateway process entrypoint: it loads
// configuration, builds every component in dependency order, and runs
// until a termination signal arrives.
//
// Grounded directly on the teacher's cmd/bluetooth-service/main.go:
// flag parsing, log.SetFlags(log.Ldate|log.Ltime|log.Lmicroseconds),
// sequential "connect, defer Close, log success" construction, and a
// signal channel blocking until shutdown.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/librescoot/bms-gateway/internal/cache"
	"github.com/librescoot/bms-gateway/internal/catalog"
	"github.com/librescoot/bms-gateway/internal/config"
	"github.com/librescoot/bms-gateway/internal/eventbus"
	"github.com/librescoot/bms-gateway/internal/httpapi"
	"github.com/librescoot/bms-gateway/internal/linkstate"
	"github.com/librescoot/bms-gateway/internal/mqttgw"
	"github.com/librescoot/bms-gateway/internal/poller"
	"github.com/librescoot/bms-gateway/internal/protocol"
	"github.com/librescoot/bms-gateway/internal/serialport"
	"github.com/librescoot/bms-gateway/internal/status"
	"github.com/librescoot/bms-gateway/internal/telemetry"
)

var configPath = flag.String("config", "/etc/bmsgatewayd/gateway.yaml", "configuration file path")

func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting BMS gateway")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.BindFlags(flag.CommandLine)
	flag.Parse()

	if cfg.Redis.Addr != "" {
		store, err := config.NewStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Key)
		if err != nil {
			log.Fatalf("Failed to connect to Redis config store: %v", err)
		}
		snap, err := store.Snapshot(context.Background())
		if err != nil {
			log.Fatalf("Failed to read Redis config snapshot: %v", err)
		}
		cfg.Overlay(snap)
		store.Close()
		log.Printf("Overlaid configuration from Redis %s", cfg.Redis.Addr)
	}
	log.Printf("Serial device: %s", cfg.Serial.Device)
	log.Printf("Device identifier: %s", cfg.DeviceID)

	link, err := serialport.Open(cfg.Serial.Device, cfg.Serial.Baud)
	if err != nil {
		log.Fatalf("Failed to open serial device: %v", err)
	}
	defer link.Close()
	log.Printf("Opened serial link")

	engine := protocol.New(link, protocol.Config{})
	defer engine.Close()

	cat, err := catalog.Default()
	if err != nil {
		log.Fatalf("Failed to build register catalog: %v", err)
	}

	bus := eventbus.New(nil)
	model := cache.NewModel(engine, cat, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := poller.New(model, catalog.LiveSet(), catalog.ConfigSet(), poller.Config{
		LivePeriod:           cfg.Poll.LivePeriod,
		ConfigPeriod:         cfg.Poll.ConfigPeriod,
		InterRegisterDelay:   cfg.Poll.InterRegisterDelay,
		ConfigPollingEnabled: cfg.Poll.ConfigPollingEnabled,
		AfterLiveCycle: func() {
			model.PublishSnapshot()
			model.PublishCANFrame()
		},
	})
	p.Start(ctx)
	defer p.Stop()
	log.Printf("Poller started")

	watcher := linkstate.InterfaceWatcher{Name: "wlan0"}
	linkSrc := linkstate.New(watcher, bus, linkstate.Config{})
	linkSrc.Start(ctx)
	defer linkSrc.Stop()

	ca, cert, key, err := cfg.PEMBlobs()
	if err != nil {
		log.Fatalf("Failed to load TLS material: %v", err)
	}
	gw, err := mqttgw.New(mqttgw.Config{
		BrokerURI:         cfg.MQTT.BrokerURI,
		Username:          cfg.MQTT.Username,
		Password:          cfg.MQTT.Password,
		KeepAlive:         cfg.MQTT.KeepAliveSeconds,
		DefaultQoS:        cfg.MQTT.DefaultQoS,
		Retain:            cfg.MQTT.Retain,
		TLSEnabled:        cfg.MQTT.TLSEnabled,
		VerifyServer:      cfg.MQTT.VerifyServer,
		ClientCertEnabled: cfg.MQTT.ClientCertEnabled,
		CAPem:             ca,
		CertPem:           cert,
		KeyPem:            key,
		DeviceID:          cfg.DeviceID,
	}, bus, nil)
	if err != nil {
		log.Fatalf("Failed to build MQTT gateway: %v", err)
	}
	gw.Start(ctx)
	defer gw.Stop()
	log.Printf("MQTT gateway started")

	httpSink := httpapi.Client{URL: cfg.Publisher.HTTPEndpoint}
	pub := telemetry.New(bus, telemetry.Sinks{HTTP: httpSink, MQTT: gw}, telemetry.Config{
		Period:       cfg.Publisher.Period,
		BufferDepth:  cfg.Publisher.BufferDepth,
		BufferingOff: cfg.Publisher.OfflineBufferOff,
	})
	pub.Start(ctx)
	defer pub.Stop()
	log.Printf("Telemetry publisher started")

	reporter := status.New(bus, status.Sources{EventBus: bus, Telemetry: pub},
		status.HTTPPoster{URL: cfg.Status.Endpoint}, time.Now(), status.Config{Period: cfg.Status.Period})
	reporter.Start(ctx)
	defer reporter.Stop()
	log.Printf("Status reporter started")

	api := httpapi.New(model, nil)
	httpSrv := &http.Server{Addr: cfg.HTTP.ListenAddr, Handler: api.Handler()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("httpapi: server stopped: %v", err)
		}
	}()
	log.Printf("HTTP adapter listening on %s", cfg.HTTP.ListenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("httpapi: shutdown error: %v", err)
	}
}
