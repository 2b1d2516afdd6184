package mqttgw

import (
	"context"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/librescoot/bms-gateway/internal/eventbus"
	"github.com/librescoot/bms-gateway/internal/telemetry"
)

type fakeToken struct{ err error }

func (f *fakeToken) Wait() bool                     { return true }
func (f *fakeToken) WaitTimeout(time.Duration) bool  { return true }
func (f *fakeToken) Done() <-chan struct{}           { ch := make(chan struct{}); close(ch); return ch }
func (f *fakeToken) Error() error                    { return f.err }

type fakeClient struct {
	mu        sync.Mutex
	connected bool
	published []string
}

func (c *fakeClient) IsConnected() bool      { c.mu.Lock(); defer c.mu.Unlock(); return c.connected }
func (c *fakeClient) IsConnectionOpen() bool { return c.IsConnected() }
func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return &fakeToken{}
}
func (c *fakeClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}
func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	c.published = append(c.published, topic)
	c.mu.Unlock()
	return &fakeToken{}
}
func (c *fakeClient) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	return &fakeToken{}
}
func (c *fakeClient) SubscribeMultiple(filters map[string]byte, cb mqtt.MessageHandler) mqtt.Token {
	return &fakeToken{}
}
func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token { return &fakeToken{} }
func (c *fakeClient) AddRoute(topic string, cb mqtt.MessageHandler) {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func (c *fakeClient) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.published))
	copy(out, c.published)
	return out
}

func testGateway(t *testing.T) (*Gateway, *fakeClient, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(nil)
	cfg := Config{BrokerURI: "tcp://broker:1883", DeviceID: "dev1", KeepAlive: 30}
	g, err := New(cfg, bus, nil)
	require.NoError(t, err)

	client := &fakeClient{}
	g.newClient = func(opts *mqtt.ClientOptions) mqtt.Client { return client }
	return g, client, bus
}

func TestPlaintextURIRejectedWhenTLSRequired(t *testing.T) {
	cfg := Config{BrokerURI: "tcp://broker:1883", DeviceID: "dev1", TLSEnabled: true}
	_, err := New(cfg, eventbus.New(nil), nil)
	require.Error(t, err)
}

func TestTLSSchemesAccepted(t *testing.T) {
	for _, scheme := range []string{"mqtts", "ssl", "wss"} {
		cfg := Config{BrokerURI: scheme + "://broker:8883", DeviceID: "dev1", TLSEnabled: true}
		_, err := New(cfg, eventbus.New(nil), nil)
		assert.NoError(t, err)
	}
}

func TestConnectOnLinkUpEvent(t *testing.T) {
	g, client, bus := testGateway(t)
	g.Start(context.Background())
	defer g.Stop()

	bus.Publish(eventbus.Event{ID: eventbus.EventLinkUp}, 0)
	require.Eventually(t, func() bool { return client.IsConnected() }, time.Second, 5*time.Millisecond)
}

func TestPublishSampleRequiresConnection(t *testing.T) {
	g, _, _ := testGateway(t)
	err := g.PublishSample(context.Background(), telemetry.Sample{SOCPercent: 50})
	assert.Error(t, err)
}

func TestPublishSampleUsesMetricsTopic(t *testing.T) {
	g, client, bus := testGateway(t)
	g.Start(context.Background())
	defer g.Stop()

	bus.Publish(eventbus.Event{ID: eventbus.EventLinkUp}, 0)
	require.Eventually(t, func() bool { return client.IsConnected() }, time.Second, 5*time.Millisecond)

	require.NoError(t, g.PublishSample(context.Background(), telemetry.Sample{SOCPercent: 50}))
	assert.Contains(t, client.topics(), "bms/dev1/metrics")
}

func TestCANFrameEventPublishesCBORTriad(t *testing.T) {
	g, client, bus := testGateway(t)
	g.Start(context.Background())
	defer g.Stop()

	bus.Publish(eventbus.Event{ID: eventbus.EventLinkUp}, 0)
	require.Eventually(t, func() bool { return client.IsConnected() }, time.Second, 5*time.Millisecond)

	bus.Publish(eventbus.Event{ID: eventbus.EventCANFrame, Payload: eventbus.CANFramePayload{
		Raw:     []byte{0x01, 0x02},
		Decoded: map[string]any{"cell_0_v": 4.2},
		Ready:   true,
	}}, 0)

	require.Eventually(t, func() bool {
		topics := client.topics()
		return containsAll(topics, "bms/dev1/can/raw", "bms/dev1/can/decoded", "bms/dev1/can/ready")
	}, time.Second, 5*time.Millisecond)
}

func containsAll(haystack []string, wants ...string) bool {
	for _, w := range wants {
		found := false
		for _, h := range haystack {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
