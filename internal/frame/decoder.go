package frame

import "encoding/binary"

// Decoder assembles a stream of inbound bytes into Response frames. It is
// not safe for concurrent use; the protocol engine owns one decoder per
// link and feeds it from its single read goroutine.
//
// Partial frames across reads are normal: Feed returns ok=false and keeps
// the bytes buffered until enough have arrived. On CRC failure, or on a
// sync byte followed by an unrecognized command byte, the leading sync
// byte is dropped and the decoder resumes scanning from the next
// occurrence of StartByte, per the protocol's resync rule.
type Decoder struct {
	buf []byte
}

// NewDecoder returns a ready-to-use streaming decoder.
func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, 64)}
}

// Feed appends data to the internal buffer and attempts to extract one
// frame. It returns the decoded Response, whether a complete frame was
// found, and an error if a complete frame was found but failed CRC
// validation (the caller should call Feed again with no new data to keep
// draining after a CRC failure, since the decoder has already resynced).
func (d *Decoder) Feed(data []byte) (resp Response, ok bool, err error) {
	d.buf = append(d.buf, data...)
	return d.tryDecode()
}

func (d *Decoder) tryDecode() (Response, bool, error) {
	for {
		idx := indexByte(d.buf, StartByte)
		if idx < 0 {
			d.buf = d.buf[:0]
			return nil, false, nil
		}
		if idx > 0 {
			d.buf = d.buf[idx:]
		}
		if len(d.buf) < 2 {
			return nil, false, nil
		}

		cmd := d.buf[1]
		if !isKnownCommand(cmd) {
			// Unrecognized command byte: this sync byte did not begin a
			// real frame. Drop it and resync from the next occurrence of
			// StartByte rather than stalling, waiting for bytes that will
			// never make it a valid frame.
			d.buf = d.buf[1:]
			continue
		}
		total, havePL := frameLength(d.buf)
		if !havePL {
			return nil, false, nil
		}
		if len(d.buf) < total {
			return nil, false, nil
		}

		frameBytes := d.buf[:total]
		resp, err := decodeFrame(cmd, frameBytes)
		if err != nil {
			// Drop the leading sync byte and resync from the next one.
			d.buf = d.buf[1:]
			return nil, true, err
		}
		d.buf = d.buf[total:]
		return resp, true, nil
	}
}

// frameLength returns the total frame length once enough bytes are
// present to know it, based on the command byte and, for variable-length
// commands, the payload-length byte.
func frameLength(buf []byte) (total int, ok bool) {
	cmd := buf[1]
	switch cmd {
	case cmdAck:
		return 5, true
	case cmdNack:
		return 6, true
	case cmdReadOne, cmdBlockRead:
		if len(buf) < 3 {
			return 0, false
		}
		pl := int(buf[2])
		return 3 + pl + 2, true
	default:
		return 0, false
	}
}

// isKnownCommand reports whether cmd is one of the protocol's recognized
// command/response bytes. frameLength can only be computed for these.
func isKnownCommand(cmd byte) bool {
	switch cmd {
	case cmdAck, cmdNack, cmdReadOne, cmdBlockRead:
		return true
	default:
		return false
	}
}

func decodeFrame(cmd byte, buf []byte) (Response, error) {
	crcOffset := len(buf) - 2
	computed := CRC16(buf[:crcOffset])
	received := binary.LittleEndian.Uint16(buf[crcOffset:])
	if computed != received {
		return nil, &crcError{computed: computed, received: received}
	}

	switch cmd {
	case cmdAck:
		return Ack{Cmd: buf[2]}, nil
	case cmdNack:
		return Nack{Cmd: buf[2], ErrorCode: buf[3]}, nil
	case cmdReadOne:
		payload := buf[3:crcOffset]
		if len(payload) != 4 {
			return nil, errLengthInconsistent
		}
		return ReadOneResponse{
			Address: binary.LittleEndian.Uint16(payload[0:2]),
			Data:    binary.LittleEndian.Uint16(payload[2:4]),
		}, nil
	case cmdBlockRead:
		payload := buf[3:crcOffset]
		if len(payload)%2 != 0 {
			return nil, errLengthInconsistent
		}
		values := make([]uint16, len(payload)/2)
		for i := range values {
			values[i] = binary.BigEndian.Uint16(payload[i*2 : i*2+2])
		}
		return BlockReadResponse{Values: values}, nil
	default:
		return nil, errUnexpectedCommand
	}
}

func indexByte(buf []byte, b byte) int {
	for i, v := range buf {
		if v == b {
			return i
		}
	}
	return -1
}
