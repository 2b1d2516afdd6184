// Package serialport wraps the physical serial driver collaborator (out
// of scope per the gateway's design: byte-level read/write with timeout)
// behind the minimal interface the protocol engine needs. Grounded on the
// teacher's pkg/usock.New/Write/Close, generalized from tarm/serial to
// go.bug.st/serial for its built-in read-deadline support.
package serialport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Link is the half-duplex byte stream the protocol engine owns
// exclusively. It is satisfied by *Port and by test fakes.
type Link interface {
	// Write sends data, blocking until accepted by the driver.
	Write(data []byte) (int, error)
	// Read reads up to len(buf) bytes, returning what is available
	// before the configured read timeout elapses.
	Read(buf []byte) (int, error)
	// SetReadTimeout adjusts the deadline applied to subsequent Reads.
	SetReadTimeout(d time.Duration) error
	// Close releases the underlying device.
	Close() error
}

// Port is a Link backed by a real serial device at 115200 8N1, no flow
// control, per the gateway's external interface.
type Port struct {
	port serial.Port
}

// Open opens devicePath at the given baud rate with 8N1 framing and no
// flow control.
func Open(devicePath string, baud int) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(devicePath, mode)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", devicePath, err)
	}
	if err := p.SetReadTimeout(750 * time.Millisecond); err != nil {
		p.Close()
		return nil, fmt.Errorf("serialport: set initial read timeout: %w", err)
	}
	return &Port{port: p}, nil
}

func (p *Port) Write(data []byte) (int, error) { return p.port.Write(data) }

func (p *Port) Read(buf []byte) (int, error) { return p.port.Read(buf) }

func (p *Port) SetReadTimeout(d time.Duration) error { return p.port.SetReadTimeout(d) }

func (p *Port) Close() error { return p.port.Close() }
