// Package poller implements the periodic live/configuration register
// poll cycles: it walks the live set every T_live, the configuration set
// every T_cfg (disabled by default), and inserts an inter-register delay
// between individual reads so a burst of on-demand requests sharing the
// serial worker's FIFO queue is never starved indefinitely.
//
// Grounded on the teacher's main.go startup sequence, which walks every
// subsystem in turn issuing one update call per field — generalized here
// from a one-shot startup walk to a recurring scheduled cycle.
package poller

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Defaults match the gateway's poller design.
const (
	DefaultLivePeriod   = 2 * time.Second
	DefaultConfigPeriod = 30 * time.Second
	DefaultInterRegisterDelay = 50 * time.Millisecond
)

// Reader reads one register address, updating whatever cache the caller
// owns. Declared locally so the poller does not depend on cache's
// concrete Model type.
type Reader interface {
	ReadAddress(ctx context.Context, address uint16) error
}

// Config holds the poller's tunables.
type Config struct {
	LivePeriod          time.Duration
	ConfigPeriod        time.Duration
	InterRegisterDelay  time.Duration
	ConfigPollingEnabled bool
	Logger              *log.Logger

	// AfterLiveCycle, if set, runs once at the end of every live-set poll
	// cycle — the gateway wires this to the cache model's PublishSnapshot
	// so the telemetry publisher's battery-snapshot subscription stays
	// current without the poller importing the cache package.
	AfterLiveCycle func()
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.LivePeriod == 0 {
		out.LivePeriod = DefaultLivePeriod
	}
	if out.ConfigPeriod == 0 {
		out.ConfigPeriod = DefaultConfigPeriod
	}
	if out.InterRegisterDelay == 0 {
		out.InterRegisterDelay = DefaultInterRegisterDelay
	}
	if out.Logger == nil {
		out.Logger = log.Default()
	}
	return out
}

// Stats counts poll-cycle outcomes.
type Stats struct {
	TotalCycles    uint64
	SuccessfulReads uint64
	FailedReads    uint64
}

// Poller runs the live and configuration poll cycles on independent
// tickers; TriggerNow forces an extra live cycle only.
type Poller struct {
	reader Reader
	cfg    Config
	live   []uint16
	config []uint16

	trigger chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup

	totalCycles     atomic.Uint64
	successfulReads atomic.Uint64
	failedReads     atomic.Uint64
}

// New constructs a Poller over the given live and configuration address
// sets. Start must be called to begin polling.
func New(reader Reader, live, config []uint16, cfg Config) *Poller {
	return &Poller{
		reader:  reader,
		cfg:     cfg.withDefaults(),
		live:    live,
		config:  config,
		trigger: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

// Start launches the live cycle goroutine, and the configuration cycle
// goroutine if configuration polling is enabled.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.runLiveCycle(ctx)

	if p.cfg.ConfigPollingEnabled {
		p.wg.Add(1)
		go p.runConfigCycle(ctx)
	}
}

// Stop signals both cycles to exit and waits for them to do so. Each
// loop checks its stop flag at every scheduling point, so it exits
// within one tick period.
func (p *Poller) Stop() {
	close(p.stop)
	p.wg.Wait()
}

// TriggerNow forces one immediate live-set poll cycle, coalesced with
// any already-pending trigger.
func (p *Poller) TriggerNow() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of the poller's cycle counters.
func (p *Poller) Stats() Stats {
	return Stats{
		TotalCycles:     p.totalCycles.Load(),
		SuccessfulReads: p.successfulReads.Load(),
		FailedReads:     p.failedReads.Load(),
	}
}

func (p *Poller) runLiveCycle(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.LivePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.runCycle(ctx, p.live)
			p.afterLive()
		case <-p.trigger:
			p.runCycle(ctx, p.live)
			p.afterLive()
		}
	}
}

func (p *Poller) afterLive() {
	if p.cfg.AfterLiveCycle != nil {
		p.cfg.AfterLiveCycle()
	}
}

func (p *Poller) runConfigCycle(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.ConfigPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.runCycle(ctx, p.config)
		}
	}
}

// runCycle reads every address in set in order, pausing
// InterRegisterDelay between reads so the serial worker's FIFO queue
// leaves room for on-demand requests between poll reads.
func (p *Poller) runCycle(ctx context.Context, set []uint16) {
	p.totalCycles.Add(1)
	for _, addr := range set {
		select {
		case <-p.stop:
			return
		default:
		}

		if err := p.reader.ReadAddress(ctx, addr); err != nil {
			p.failedReads.Add(1)
			p.cfg.Logger.Printf("poller: read 0x%04x failed: %v", addr, err)
		} else {
			p.successfulReads.Add(1)
		}

		select {
		case <-p.stop:
			return
		case <-time.After(p.cfg.InterRegisterDelay):
		}
	}
}
