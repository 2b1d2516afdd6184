// Package status implements the periodic status reporter: every
// T_status it aggregates counters from the event bus and the telemetry
// publisher into a compact JSON snapshot and
// POSTs it to a configured endpoint. A failed POST is logged and
// forgotten — the reporter never retries or buffers, unlike the
// telemetry publisher.
//
// Grounded on the teacher's main.go startup sequence, which walks every
// subsystem collecting its current state before the first Redis
// publish; generalized here from a one-shot collection into a
// recurring tick, and from a Redis hash write into an HTTP POST.
package status

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/librescoot/bms-gateway/internal/eventbus"
)

// DefaultPeriod is T_status.
const DefaultPeriod = 60 * time.Second

// Snapshot is the compact JSON status document posted to the endpoint.
type Snapshot struct {
	UptimeSeconds     float64 `json:"uptime_seconds"`
	EventsPublished   uint64  `json:"events_published"`
	EventsDropped     uint64  `json:"events_dropped"`
	TelemetryBacklog  int     `json:"telemetry_backlog"`
	LastBackendSyncMS int64   `json:"last_backend_sync_ms"`
	PublishErrors     uint64  `json:"publish_errors"`
}

// Sources is the set of collaborators the reporter reads counters from.
// Each is a narrow interface so status does not import the concrete
// protocol/poller/eventbus/telemetry packages' full surface.
type Sources struct {
	EventBus  EventBusStats
	Telemetry TelemetryStats
}

// EventBusStats exposes the bus's aggregate publish/drop counts across
// all subscriptions.
type EventBusStats interface {
	TotalPublished() uint64
	TotalDropped() uint64
}

// TelemetryStats exposes the publisher's counters the snapshot needs.
type TelemetryStats interface {
	StatusStats() (backlog int, lastPublishMS int64, publishErrors uint64)
}

// Poster sends the serialized snapshot somewhere. The default
// implementation POSTs JSON over HTTP; tests substitute a fake.
type Poster interface {
	Post(ctx context.Context, body []byte) error
}

// HTTPPoster POSTs the snapshot body to a fixed URL. It sets no timeout
// of its own: a request is bounded only by ctx and by Client's timeout,
// and http.DefaultClient, used when Client is nil, has none.
type HTTPPoster struct {
	URL    string
	Client *http.Client
}

func (p HTTPPoster) Post(ctx context.Context, body []byte) error {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status: endpoint returned %s", resp.Status)
	}
	return nil
}

// Config holds the reporter's tunables.
type Config struct {
	Period time.Duration
	Logger *log.Logger
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Period == 0 {
		out.Period = DefaultPeriod
	}
	if out.Logger == nil {
		out.Logger = log.Default()
	}
	return out
}

// Reporter ticks at Period, building and POSTing one Snapshot per tick.
type Reporter struct {
	cfg     Config
	sources Sources
	poster  Poster
	started time.Time

	mu                sync.Mutex
	lastBackendSyncMS int64

	sub  *eventbus.Subscription
	bus  *eventbus.Bus
	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Reporter. started is the process start time, used to
// compute uptime.
func New(bus *eventbus.Bus, sources Sources, poster Poster, started time.Time, cfg Config) *Reporter {
	return &Reporter{
		cfg:     cfg.withDefaults(),
		sources: sources,
		poster:  poster,
		started: started,
		bus:     bus,
		stop:    make(chan struct{}),
	}
}

// Start launches the tick loop and, if bus is non-nil, a subscription
// that records the last time any register_updated event arrived as the
// "last backend sync" timestamp.
func (r *Reporter) Start(ctx context.Context) {
	if r.bus != nil {
		r.sub = r.bus.Subscribe(eventbus.SubscribeOptions{Name: "status-reporter", Capacity: 64})
		r.wg.Add(1)
		go r.drainSyncEvents()
	}
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop halts the tick loop and unsubscribes from the bus.
func (r *Reporter) Stop() {
	close(r.stop)
	r.wg.Wait()
	if r.sub != nil {
		r.bus.Unsubscribe(r.sub)
	}
}

func (r *Reporter) drainSyncEvents() {
	defer r.wg.Done()
	for {
		ev, ok := r.sub.Receive(200 * time.Millisecond)
		if !ok {
			select {
			case <-r.stop:
				return
			default:
				continue
			}
		}
		if ev.ID == eventbus.EventRegisterUpdated {
			r.mu.Lock()
			r.lastBackendSyncMS = time.Now().UnixMilli()
			r.mu.Unlock()
		}
	}
}

func (r *Reporter) run(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reporter) tick(ctx context.Context) {
	snap := r.build()
	body, err := json.Marshal(snap)
	if err != nil {
		r.cfg.Logger.Printf("status: marshal failed: %v", err)
		return
	}
	if err := r.poster.Post(ctx, body); err != nil {
		r.cfg.Logger.Printf("status: post failed: %v", err)
	}
}

func (r *Reporter) build() Snapshot {
	backlog, lastPublishMS, publishErrors := r.sources.Telemetry.StatusStats()

	r.mu.Lock()
	lastSync := r.lastBackendSyncMS
	r.mu.Unlock()
	if lastPublishMS > lastSync {
		lastSync = lastPublishMS
	}

	return Snapshot{
		UptimeSeconds:     time.Since(r.started).Seconds(),
		EventsPublished:   r.sources.EventBus.TotalPublished(),
		EventsDropped:     r.sources.EventBus.TotalDropped(),
		TelemetryBacklog:  backlog,
		LastBackendSyncMS: lastSync,
		PublishErrors:     publishErrors,
	}
}
