// Package mqttgw implements the MQTT gateway: a paho.mqtt.golang client
// whose lifecycle is driven by link-up/link-down/config-updated events
// from the bus rather than by the process's own main loop, topic/QoS/
// retain mapping per the gateway's topic layout, and a URI security
// policy that rejects a plaintext broker scheme whenever TLS is
// required.
//
// Grounded on bcdiaconu-chint-mqtt-modbus-bridge's USRGateway: paho
// options construction (AddBroker/SetClientID/SetUsername/
// SetAutoReconnect/SetKeepAlive), SetOnConnectHandler/
// SetConnectionLostHandler updating a mutex-guarded connected bool, and
// IsConnected combining that bool with the client's own IsConnected.
package mqttgw

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fxamacker/cbor/v2"

	"github.com/librescoot/bms-gateway/internal/bmserr"
	"github.com/librescoot/bms-gateway/internal/eventbus"
	"github.com/librescoot/bms-gateway/internal/telemetry"
)

// Stats is the gateway's connection counter set.
type Stats struct {
	Connects    uint64
	Disconnects uint64
	Errors      uint64
	LastError   string
	Connected   bool
}

// Gateway owns one paho client and publishes to the bms/<dev>/* and
// <dev>/alerts topics. It satisfies telemetry.MQTTSink.
type Gateway struct {
	cfg Config
	log *log.Logger
	bus *eventbus.Bus

	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu        sync.Mutex
	client    mqtt.Client
	connected bool
	stats     Stats

	sub  *eventbus.Subscription
	stop chan struct{}
	wg   sync.WaitGroup
}

var _ telemetry.MQTTSink = (*Gateway)(nil)

// New builds a Gateway from a validated Config. logger may be nil.
func New(cfg Config, bus *eventbus.Bus, logger *log.Logger) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Gateway{
		cfg:       cfg,
		log:       logger,
		bus:       bus,
		newClient: mqtt.NewClient,
		stop:      make(chan struct{}),
	}, nil
}

// Start subscribes to link/config events; the client itself is only
// dialed once a link-up event arrives, per the lifecycle contract.
func (g *Gateway) Start(ctx context.Context) {
	g.sub = g.bus.Subscribe(eventbus.SubscribeOptions{Name: "mqttgw", Capacity: 16})
	g.wg.Add(1)
	go g.dispatchLoop(ctx)
}

// Stop disconnects the client (if connected) and tears down the event
// subscription.
func (g *Gateway) Stop() {
	close(g.stop)
	g.wg.Wait()
	g.disconnect()
	if g.sub != nil {
		g.bus.Unsubscribe(g.sub)
	}
}

func (g *Gateway) dispatchLoop(ctx context.Context) {
	defer g.wg.Done()
	for {
		ev, ok := g.sub.Receive(200 * time.Millisecond)
		if !ok {
			select {
			case <-g.stop:
				return
			default:
				continue
			}
		}
		switch ev.ID {
		case eventbus.EventLinkUp:
			g.connect(ctx)
		case eventbus.EventLinkDown:
			g.disconnect()
		case eventbus.EventConfigUpdated:
			g.disconnect()
			g.connect(ctx)
			if p, ok := ev.Payload.(eventbus.ConfigUpdatedPayload); ok {
				_ = g.PublishConfig(ctx, p)
			}
		case eventbus.EventBatterySnapshot:
			_ = g.PublishStatus(ctx, ev.Payload)
		case eventbus.EventAlert:
			if p, ok := ev.Payload.(eventbus.AlertPayload); ok {
				_ = g.PublishAlert(ctx, p)
			}
		case eventbus.EventCANFrame:
			if p, ok := ev.Payload.(eventbus.CANFramePayload); ok {
				_ = g.PublishCANRaw(ctx, p.Raw)
				_ = g.PublishCANDecoded(ctx, p.Decoded)
				_ = g.PublishCANReady(ctx, p.Ready)
			}
		}
	}
}

func (g *Gateway) buildOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(g.cfg.BrokerURI)
	opts.SetClientID("bms-gateway-" + g.cfg.DeviceID)
	opts.SetUsername(g.cfg.Username)
	opts.SetPassword(g.cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(time.Duration(g.cfg.KeepAlive) * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	if g.cfg.TLSEnabled {
		opts.SetTLSConfig(g.buildTLSConfig())
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		g.mu.Lock()
		g.connected = true
		g.stats.Connects++
		g.stats.Connected = true
		g.mu.Unlock()
		g.log.Printf("mqttgw: connected to %s", g.cfg.BrokerURI)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		g.mu.Lock()
		g.connected = false
		g.stats.Disconnects++
		g.stats.Connected = false
		g.stats.LastError = bmserr.Truncate(err.Error())
		g.mu.Unlock()
		g.log.Printf("mqttgw: connection lost: %v", err)
	})
	return opts
}

// buildTLSConfig assembles a tls.Config from the PEM blobs carried in
// Config without copying them into any longer-lived buffer — they are
// parsed once here and discarded.
func (g *Gateway) buildTLSConfig() *tls.Config {
	tlsCfg := &tls.Config{InsecureSkipVerify: !g.cfg.VerifyServer}

	if len(g.cfg.CAPem) > 0 {
		pool := x509.NewCertPool()
		if pool.AppendCertsFromPEM(g.cfg.CAPem) {
			tlsCfg.RootCAs = pool
		}
	}
	if g.cfg.ClientCertEnabled && len(g.cfg.CertPem) > 0 && len(g.cfg.KeyPem) > 0 {
		if cert, err := tls.X509KeyPair(g.cfg.CertPem, g.cfg.KeyPem); err == nil {
			tlsCfg.Certificates = []tls.Certificate{cert}
		}
	}
	return tlsCfg
}

func (g *Gateway) connect(ctx context.Context) {
	g.mu.Lock()
	if g.client != nil {
		g.mu.Unlock()
		return
	}
	client := g.newClient(g.buildOptions())
	g.client = client
	g.mu.Unlock()

	token := client.Connect()
	done := make(chan struct{})
	go func() { token.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return
	}
	if err := token.Error(); err != nil {
		g.mu.Lock()
		g.stats.Errors++
		g.stats.LastError = bmserr.Truncate(err.Error())
		g.mu.Unlock()
		g.log.Printf("mqttgw: connect failed: %v", err)
	}
}

func (g *Gateway) disconnect() {
	g.mu.Lock()
	client := g.client
	g.client = nil
	g.connected = false
	g.stats.Connected = false
	g.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
}

// IsConnected reports whether the client is dialed and the broker
// confirmed the session, combining the gateway's own bookkeeping with
// the client's view the way the teacher's IsConnected does.
func (g *Gateway) IsConnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected && g.client != nil && g.client.IsConnected()
}

// Stats returns a snapshot of the gateway's connection counters.
func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

func (g *Gateway) publish(ctx context.Context, t topic, payload []byte) error {
	g.mu.Lock()
	client := g.client
	g.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return bmserr.New(bmserr.CodeLinkClosed, "mqttgw.publish")
	}
	tok := client.Publish(t.resolve(g.cfg.DeviceID), t.qos, t.retain, payload)
	if !tok.WaitTimeout(5 * time.Second) {
		return bmserr.New(bmserr.CodeTimeout, "mqttgw.publish")
	}
	if err := tok.Error(); err != nil {
		g.mu.Lock()
		g.stats.Errors++
		g.stats.LastError = bmserr.Truncate(err.Error())
		g.mu.Unlock()
		return bmserr.Wrap(bmserr.CodeWriteError, "mqttgw.publish", err)
	}
	return nil
}

// PublishSample implements telemetry.MQTTSink: the telemetry sample is
// forwarded to the metrics topic as JSON.
func (g *Gateway) PublishSample(ctx context.Context, sample telemetry.Sample) error {
	payload, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	return g.publish(ctx, topicMetrics, payload)
}

// PublishStatus forwards a battery snapshot to the retained status
// topic as JSON.
func (g *Gateway) PublishStatus(ctx context.Context, snapshot any) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return g.publish(ctx, topicStatus, payload)
}

// PublishConfig forwards a configuration-updated notification to the
// config topic as JSON.
func (g *Gateway) PublishConfig(ctx context.Context, payload eventbus.ConfigUpdatedPayload) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return g.publish(ctx, topicConfig, b)
}

// PublishAlert forwards an alert to <dev>/alerts as JSON.
func (g *Gateway) PublishAlert(ctx context.Context, payload eventbus.AlertPayload) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return g.publish(ctx, topicAlerts, b)
}

// PublishCANRaw, PublishCANDecoded, and PublishCANReady forward the
// CAN-passthrough topic triad as CBOR, exercising the same wire-format
// library the teacher uses for its nRF52 BLE uplink framing. Driven by
// EventCANFrame, which cache.Model publishes once per live poll cycle
// (see dispatchLoop).
func (g *Gateway) PublishCANRaw(ctx context.Context, frame []byte) error {
	return g.publishCBOR(ctx, topicCANRaw, frame)
}

func (g *Gateway) PublishCANDecoded(ctx context.Context, decoded map[string]any) error {
	return g.publishCBOR(ctx, topicCANDec, decoded)
}

func (g *Gateway) PublishCANReady(ctx context.Context, ready bool) error {
	return g.publishCBOR(ctx, topicCANReady, ready)
}

func (g *Gateway) publishCBOR(ctx context.Context, t topic, v any) error {
	payload, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("mqttgw: cbor encode: %w", err)
	}
	return g.publish(ctx, t, payload)
}
