// Package bmserr defines the error taxonomy shared by every component of
// the gateway: transport, framing, protocol, contract, resource, and state
// errors, each carrying a short operation tag so the status reporter can
// aggregate a single last-error string without re-parsing messages.
package bmserr

import "fmt"

// Code classifies an error into the taxonomy from the gateway's design
// notes on error handling.
type Code int

const (
	// Transport errors: the link itself misbehaved.
	CodeLinkClosed Code = iota
	CodeWriteError
	CodeReadError
	CodeTimeout

	// Framing errors: bytes were received but did not form a valid frame.
	CodeShortFrame
	CodeBadStartByte
	CodeCRCMismatch
	CodeLengthInconsistent

	// Protocol errors: a well-formed frame reported a failure.
	CodeProtocolNACK
	CodeUnexpectedCommand

	// Contract errors: caller asked for something invalid.
	CodeUnknownRegister
	CodeValueOutOfRange
	CodeReadOnly
	CodeInsecureURI

	// Resource errors: a bounded resource was exhausted.
	CodeBusy
	CodeDropped
	CodeMutexTimeout

	// State errors: the component wasn't ready for the request.
	CodeNotInitialized
	CodeNotStarted
	CodeAlreadyRunning
	CodeThrottled
)

var codeNames = map[Code]string{
	CodeLinkClosed:         "link_closed",
	CodeWriteError:         "write_error",
	CodeReadError:          "read_error",
	CodeTimeout:            "timeout",
	CodeShortFrame:         "short_frame",
	CodeBadStartByte:       "bad_start_byte",
	CodeCRCMismatch:        "crc_mismatch",
	CodeLengthInconsistent: "length_inconsistent",
	CodeProtocolNACK:       "protocol_nack",
	CodeUnexpectedCommand:  "unexpected_command",
	CodeUnknownRegister:    "unknown_register",
	CodeValueOutOfRange:    "value_out_of_range",
	CodeReadOnly:           "read_only",
	CodeInsecureURI:        "insecure_uri",
	CodeBusy:               "busy",
	CodeDropped:            "dropped",
	CodeMutexTimeout:       "mutex_timeout",
	CodeNotInitialized:     "not_initialized",
	CodeNotStarted:         "not_started",
	CodeAlreadyRunning:     "already_running",
	CodeThrottled:          "throttled",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "unknown"
}

// Error is the structured error type returned by every component in the
// taxonomy. Op names the operation that failed (e.g. "protocol.Read");
// Err, if present, is the underlying cause.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a tagged error with no underlying cause.
func New(code Code, op string) *Error {
	return &Error{Code: code, Op: op}
}

// Wrap builds a tagged error around an underlying cause.
func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// NACK carries the controller-reported error code from a NACK frame.
type NACK struct {
	Op        string
	ErrorCode byte
}

func (e *NACK) Error() string {
	return fmt.Sprintf("%s: protocol_nack: controller error 0x%02x", e.Op, e.ErrorCode)
}

// Truncate clamps a last-error string to the 96-byte budget every
// component's counters snapshot uses.
func Truncate(s string) string {
	const maxLen = 96
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
