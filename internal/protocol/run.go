package protocol

import (
	"time"

	"github.com/librescoot/bms-gateway/internal/bmserr"
	"github.com/librescoot/bms-gateway/internal/frame"
)

// readChunk is how much the worker asks the link for per Read call while
// awaiting a response; small enough to notice a deadline promptly, large
// enough not to thrash on multi-byte responses.
const readChunk = 64

// pollInterval bounds how often the worker checks the stop channel and
// the response deadline while waiting for bytes.
const pollInterval = 25 * time.Millisecond

func (e *Engine) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stop:
			return
		case j := <-e.jobs:
			e.process(j)
		}
	}
}

// process carries one job through Transmitting -> AwaitingResponse ->
// Parsing -> Complete|Retry|Failed, retrying up to cfg.Retries times on
// timeout or CRC failure, per the protocol's state machine.
func (e *Engine) process(j *job) {
	req, wantAck := e.buildRequest(j)
	if req == nil {
		j.respCh <- Result{Err: bmserr.New(bmserr.CodeUnexpectedCommand, "protocol.process")}
		return
	}

	var lastErr error
	for attempt := 0; attempt <= e.cfg.Retries; attempt++ {
		if attempt > 0 {
			e.mu.Lock()
			e.stats.retries++
			e.mu.Unlock()
		}

		if err := e.transmit(req); err != nil {
			lastErr = err
			e.recordError(err)
			continue
		}

		resp, err := e.awaitResponse()
		if err != nil {
			lastErr = err
			e.recordError(err)
			continue
		}

		result, done, finalErr := e.interpret(j, resp, wantAck)
		if done {
			if finalErr != nil {
				e.recordError(finalErr)
			}
			j.respCh <- result
			return
		}
		lastErr = finalErr
	}

	if lastErr == nil {
		lastErr = bmserr.New(bmserr.CodeTimeout, "protocol.process")
	}
	e.mu.Lock()
	if be, ok := lastErr.(*bmserr.Error); ok && be.Code == bmserr.CodeTimeout {
		e.stats.timeouts++
	}
	e.mu.Unlock()
	j.respCh <- Result{Err: lastErr}
}

// buildRequest turns a job into its wire frame. wantAck is true for
// operations whose success is signaled by a bare Ack rather than a typed
// response payload.
func (e *Engine) buildRequest(j *job) (frame.Request, bool) {
	switch j.op {
	case OpReadOne:
		return frame.ReadOneRequest{Address: j.address}, false
	case OpReadBlock:
		return frame.BlockReadRequest{Address: j.address, Count: j.count}, false
	case OpWriteOne:
		return frame.WriteOneRequest{Address: j.address, Data: j.data}, true
	case OpRestart:
		return frame.WriteOneRequest{Address: j.address, Data: j.data}, true
	default:
		return nil, false
	}
}

// transmit drains stray bytes left on the link, then sends req. If the
// link has been idle longer than the sleep threshold, the request is
// sent twice with a brief gap: the controller discards the first
// wakeup frame after a long idle period.
func (e *Engine) transmit(req frame.Request) error {
	e.drainStray()

	e.mu.Lock()
	asleep := e.lastInteraction.IsZero() || time.Since(e.lastInteraction) > e.cfg.SleepThreshold
	e.mu.Unlock()

	payload := req.Encode()
	if _, err := e.link.Write(payload); err != nil {
		return bmserr.Wrap(bmserr.CodeWriteError, "protocol.transmit", err)
	}
	if asleep {
		time.Sleep(interFrameGap)
		if _, err := e.link.Write(payload); err != nil {
			return bmserr.Wrap(bmserr.CodeWriteError, "protocol.transmit", err)
		}
	}

	e.mu.Lock()
	e.lastInteraction = time.Now()
	e.mu.Unlock()
	return nil
}

// drainStray discards any bytes already waiting on the link before a new
// request is transmitted, so a stale response can't be mistaken for the
// reply to this request.
func (e *Engine) drainStray() {
	_ = e.link.SetReadTimeout(time.Millisecond)
	buf := make([]byte, readChunk)
	for {
		n, err := e.link.Read(buf)
		if n == 0 || err != nil {
			break
		}
	}
}

// awaitResponse reads from the link until a complete frame is decoded or
// the response timeout elapses.
func (e *Engine) awaitResponse() (frame.Response, error) {
	dec := frame.NewDecoder()
	deadline := time.Now().Add(e.cfg.ResponseTimeout)
	buf := make([]byte, readChunk)

	for {
		select {
		case <-e.stop:
			return nil, bmserr.New(bmserr.CodeLinkClosed, "protocol.awaitResponse")
		default:
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, bmserr.New(bmserr.CodeTimeout, "protocol.awaitResponse")
		}
		chunkTimeout := pollInterval
		if remaining < chunkTimeout {
			chunkTimeout = remaining
		}
		_ = e.link.SetReadTimeout(chunkTimeout)

		n, err := e.link.Read(buf)
		if err != nil {
			return nil, bmserr.Wrap(bmserr.CodeReadError, "protocol.awaitResponse", err)
		}
		if n == 0 {
			continue
		}

		resp, ok, ferr := dec.Feed(buf[:n])
		if ferr != nil {
			return nil, bmserr.Wrap(bmserr.CodeCRCMismatch, "protocol.awaitResponse", ferr)
		}
		if ok {
			return resp, nil
		}
	}
}

// interpret maps a decoded response onto a job result. done is false
// only when the caller should retry with a fresh frame (callers never
// retry on a NACK: protocol NACKs are surfaced to the caller immediately
// per the propagation policy).
func (e *Engine) interpret(j *job, resp frame.Response, wantAck bool) (Result, bool, error) {
	if nack, isNack := resp.(frame.Nack); isNack {
		e.mu.Lock()
		e.stats.nacks++
		e.mu.Unlock()
		err := &bmserr.NACK{Op: "protocol.interpret", ErrorCode: nack.ErrorCode}
		return Result{Err: err}, true, err
	}

	switch j.op {
	case OpReadOne:
		rr, ok := resp.(frame.ReadOneResponse)
		if !ok || rr.Address != j.address {
			return Result{}, false, bmserr.New(bmserr.CodeUnexpectedCommand, "protocol.interpret")
		}
		return Result{Value: rr.Data}, true, nil

	case OpReadBlock:
		br, ok := resp.(frame.BlockReadResponse)
		if !ok {
			return Result{}, false, bmserr.New(bmserr.CodeUnexpectedCommand, "protocol.interpret")
		}
		return Result{Block: br.Values}, true, nil

	case OpWriteOne, OpRestart:
		if !wantAck {
			return Result{}, false, bmserr.New(bmserr.CodeUnexpectedCommand, "protocol.interpret")
		}
		if _, ok := resp.(frame.Ack); !ok {
			return Result{}, false, bmserr.New(bmserr.CodeUnexpectedCommand, "protocol.interpret")
		}
		return Result{}, true, nil

	default:
		return Result{}, false, bmserr.New(bmserr.CodeUnexpectedCommand, "protocol.interpret")
	}
}
