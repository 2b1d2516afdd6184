// Package protocol implements the half-duplex serial request/response
// engine: a single worker owns the link and serializes every read/write/
// restart through one FIFO queue, retrying on timeout and waking a sleepy
// link with a double-send, per the gateway's serial protocol design.
//
// Grounded on the teacher's pkg/usock read loop and write path, but
// generalized from USOCK's fire-and-forget Write to a job-queue/
// response-channel design, since this protocol is request/response
// rather than async-notify.
package protocol

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/librescoot/bms-gateway/internal/bmserr"
	"github.com/librescoot/bms-gateway/internal/frame"
	"github.com/librescoot/bms-gateway/internal/serialport"
)

// Defaults match the gateway's serial protocol design.
const (
	DefaultResponseTimeout = 750 * time.Millisecond
	DefaultRetries         = 2
	DefaultQueueDepth      = 64
	DefaultRestartGuard    = 5 * time.Second
	DefaultSleepThreshold  = 5 * time.Second
	interFrameGap          = 20 * time.Millisecond
)

// Stats is a point-in-time snapshot of the engine's diagnostic counters.
type Stats struct {
	Retries        uint64
	Timeouts       uint64
	NACKs          uint64
	BusyRejections uint64
	LastError      string
}

// Config holds the tunables the engine needs at construction.
type Config struct {
	ResponseTimeout time.Duration
	Retries         int
	QueueDepth      int
	RestartGuard    time.Duration
	SleepThreshold  time.Duration
	Logger          *log.Logger
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ResponseTimeout == 0 {
		out.ResponseTimeout = DefaultResponseTimeout
	}
	if out.Retries == 0 {
		out.Retries = DefaultRetries
	}
	if out.QueueDepth == 0 {
		out.QueueDepth = DefaultQueueDepth
	}
	if out.RestartGuard == 0 {
		out.RestartGuard = DefaultRestartGuard
	}
	if out.SleepThreshold == 0 {
		out.SleepThreshold = DefaultSleepThreshold
	}
	if out.Logger == nil {
		out.Logger = log.Default()
	}
	return out
}

// Engine is the single-in-flight serial protocol engine. At any instant
// at most one request is on the wire, satisfied by routing every public
// call through one worker goroutine reading from one job channel.
type Engine struct {
	link serialport.Link
	cfg  Config

	jobs chan *job
	stop chan struct{}
	wg   sync.WaitGroup

	mu             sync.Mutex
	lastInteraction time.Time
	lastRestart     time.Time
	stats           statsCounters
}

type statsCounters struct {
	retries        uint64
	timeouts       uint64
	nacks          uint64
	busyRejections uint64
	lastError      string
}

// New constructs an Engine over link and starts its worker goroutine.
// The caller must call Close to release the link.
func New(link serialport.Link, cfg Config) *Engine {
	c := cfg.withDefaults()
	e := &Engine{
		link: link,
		cfg:  c,
		jobs: make(chan *job, c.QueueDepth),
		stop: make(chan struct{}),
	}
	e.wg.Add(1)
	go e.run()
	return e
}

// Close stops the worker and drains no further jobs. In-flight and
// queued jobs are abandoned; callers waiting on a response channel will
// never receive a result for jobs queued after Close begins.
func (e *Engine) Close() {
	close(e.stop)
	e.wg.Wait()
}

// Stats returns a snapshot of the engine's diagnostic counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Retries:        e.stats.retries,
		Timeouts:       e.stats.timeouts,
		NACKs:          e.stats.nacks,
		BusyRejections: e.stats.busyRejections,
		LastError:      e.stats.lastError,
	}
}

func (e *Engine) recordError(err error) {
	e.mu.Lock()
	e.stats.lastError = bmserr.Truncate(err.Error())
	e.mu.Unlock()
}

// enqueue submits job, returning Busy immediately if the queue is full
// rather than blocking the caller — on-demand requests must never starve
// indefinitely behind a saturated queue.
func (e *Engine) enqueue(ctx context.Context, j *job) (Result, error) {
	select {
	case e.jobs <- j:
	default:
		e.mu.Lock()
		e.stats.busyRejections++
		e.mu.Unlock()
		return Result{}, bmserr.New(bmserr.CodeBusy, "protocol.enqueue")
	}

	select {
	case res := <-j.respCh:
		return res, res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// ReadOne reads a single register by address.
func (e *Engine) ReadOne(ctx context.Context, address uint16) (uint16, error) {
	j := &job{op: OpReadOne, address: address, respCh: make(chan Result, 1)}
	res, err := e.enqueue(ctx, j)
	return res.Value, err
}

// ReadBlock reads count contiguous registers starting at address.
func (e *Engine) ReadBlock(ctx context.Context, address uint16, count byte) ([]uint16, error) {
	j := &job{op: OpReadBlock, address: address, count: count, respCh: make(chan Result, 1)}
	res, err := e.enqueue(ctx, j)
	return res.Block, err
}

// WriteOne writes raw to a single register.
func (e *Engine) WriteOne(ctx context.Context, address uint16, raw uint16) error {
	j := &job{op: OpWriteOne, address: address, data: raw, respCh: make(chan Result, 1)}
	_, err := e.enqueue(ctx, j)
	return err
}

// Restart issues the controller restart command (write 0xA55A to
// 0x0086), rejected with Throttled if called again within the guard
// window.
func (e *Engine) Restart(ctx context.Context) error {
	e.mu.Lock()
	if !e.lastRestart.IsZero() && time.Since(e.lastRestart) < e.cfg.RestartGuard {
		e.mu.Unlock()
		return bmserr.New(bmserr.CodeThrottled, "protocol.Restart")
	}
	e.lastRestart = time.Now()
	e.mu.Unlock()

	j := &job{op: OpRestart, address: restartAddress, data: restartValue, respCh: make(chan Result, 1)}
	_, err := e.enqueue(ctx, j)
	return err
}

// restartAddress and restartValue implement the restart command: a write
// of 0xA55A to address 0x0086.
const (
	restartAddress uint16 = 0x0086
	restartValue   uint16 = 0xA55A
)
