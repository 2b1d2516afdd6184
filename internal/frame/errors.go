package frame

import "fmt"

var (
	errLengthInconsistent = fmt.Errorf("frame: length inconsistent with declared payload")
	errUnexpectedCommand  = fmt.Errorf("frame: unexpected command byte")
)

type crcError struct {
	computed, received uint16
}

func (e *crcError) Error() string {
	return fmt.Sprintf("frame: crc mismatch: computed=0x%04x received=0x%04x", e.computed, e.received)
}
