package protocol

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/librescoot/bms-gateway/internal/bmserr"
	"github.com/librescoot/bms-gateway/internal/frame"
)

// fakeLink is an in-memory serialport.Link. Each Write is handed to an
// optional responder, whose return value (if any) is queued for the next
// Read calls — standing in for the physical serial driver collaborator.
type fakeLink struct {
	mu        sync.Mutex
	pending   []byte
	timeout   time.Duration
	writes    [][]byte
	responder func(written []byte) []byte
}

func newFakeLink(responder func([]byte) []byte) *fakeLink {
	return &fakeLink{responder: responder, timeout: 50 * time.Millisecond}
}

func (f *fakeLink) Write(data []byte) (int, error) {
	cp := append([]byte(nil), data...)
	f.mu.Lock()
	f.writes = append(f.writes, cp)
	if f.responder != nil {
		if out := f.responder(cp); out != nil {
			f.pending = append(f.pending, out...)
		}
	}
	f.mu.Unlock()
	return len(data), nil
}

func (f *fakeLink) Read(buf []byte) (int, error) {
	deadline := time.Now().Add(f.timeout)
	for {
		f.mu.Lock()
		if len(f.pending) > 0 {
			n := copy(buf, f.pending)
			f.pending = f.pending[n:]
			f.mu.Unlock()
			return n, nil
		}
		f.mu.Unlock()
		if time.Now().After(deadline) {
			return 0, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *fakeLink) SetReadTimeout(d time.Duration) error {
	f.mu.Lock()
	f.timeout = d
	f.mu.Unlock()
	return nil
}

func (f *fakeLink) Close() error { return nil }

func testEngine(link *fakeLink) *Engine {
	return New(link, Config{
		ResponseTimeout: 100 * time.Millisecond,
		Retries:         2,
		QueueDepth:      4,
		RestartGuard:    50 * time.Millisecond,
	})
}

func TestReadOneSuccess(t *testing.T) {
	link := newFakeLink(func(written []byte) []byte {
		payload := []byte{0x00, 0x00, 0x68, 0x10}
		f := append([]byte{frame.StartByte, 0x09, byte(len(payload))}, payload...)
		return appendTestCRC(f)
	})
	e := testEngine(link)
	defer e.Close()

	val, err := e.ReadOne(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1068), val)
}

func TestWriteOneAckSuccess(t *testing.T) {
	link := newFakeLink(func(written []byte) []byte {
		cmd := written[1]
		return appendTestCRC([]byte{frame.StartByte, 0x01, cmd})
	})
	e := testEngine(link)
	defer e.Close()

	err := e.WriteOne(context.Background(), 0x012C, 4200)
	require.NoError(t, err)
}

func TestNackSurfacedWithoutRetry(t *testing.T) {
	var attempts int
	link := newFakeLink(func(written []byte) []byte {
		attempts++
		cmd := written[1]
		return appendTestCRC([]byte{frame.StartByte, 0x00, cmd, 0x04})
	})
	e := testEngine(link)
	defer e.Close()

	err := e.WriteOne(context.Background(), 0x0100, 1)
	require.Error(t, err)
	var nackErr *bmserr.NACK
	require.ErrorAs(t, err, &nackErr)
	assert.Equal(t, byte(0x04), nackErr.ErrorCode)
	// The link starts asleep, so the single attempt writes its frame twice;
	// a retry would add a third write.
	assert.Equal(t, 2, attempts, "NACK must not trigger a retry")
}

func TestTimeoutRetriesThenFails(t *testing.T) {
	link := newFakeLink(func(written []byte) []byte { return nil })
	e := testEngine(link)
	defer e.Close()

	_, err := e.ReadOne(context.Background(), 0)
	require.Error(t, err)
	var bmsErr *bmserr.Error
	require.ErrorAs(t, err, &bmsErr)
	assert.Equal(t, bmserr.CodeTimeout, bmsErr.Code)

	stats := e.Stats()
	assert.Equal(t, uint64(2), stats.Retries)
	assert.Equal(t, uint64(1), stats.Timeouts)
}

func TestRestartThrottledWithinGuardWindow(t *testing.T) {
	link := newFakeLink(func(written []byte) []byte {
		cmd := written[1]
		return appendTestCRC([]byte{frame.StartByte, 0x01, cmd})
	})
	e := testEngine(link)
	defer e.Close()

	require.NoError(t, e.Restart(context.Background()))

	err := e.Restart(context.Background())
	require.Error(t, err)
	var bmsErr *bmserr.Error
	require.ErrorAs(t, err, &bmsErr)
	assert.Equal(t, bmserr.CodeThrottled, bmsErr.Code)
}

func TestQueueFullReturnsBusy(t *testing.T) {
	block := make(chan struct{})
	link := newFakeLink(func(written []byte) []byte {
		<-block
		return nil
	})
	e := New(link, Config{
		ResponseTimeout: 5 * time.Second,
		Retries:         0,
		QueueDepth:      1,
	})
	defer func() {
		close(block)
		e.Close()
	}()

	// First request occupies the worker; queue depth 1 holds one more.
	go func() { _, _ = e.ReadOne(context.Background(), 0) }()
	time.Sleep(20 * time.Millisecond)
	go func() { _, _ = e.ReadOne(context.Background(), 1) }()
	time.Sleep(20 * time.Millisecond)

	_, err := e.ReadOne(context.Background(), 2)
	require.Error(t, err)
	var bmsErr *bmserr.Error
	require.ErrorAs(t, err, &bmsErr)
	assert.Equal(t, bmserr.CodeBusy, bmsErr.Code)
}

func appendTestCRC(buf []byte) []byte {
	crc := frame.CRC16(buf)
	return append(buf, byte(crc), byte(crc>>8))
}
