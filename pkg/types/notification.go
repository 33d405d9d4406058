package types

import "fmt"

// NotifResult is the flat notification code reported for a finished
// Tx or Rx transfer
type NotifResult uint8

const (
	NtfrsltOK           NotifResult = iota // Success
	NtfrsltENotOK                          // Generic failure
	NtfrsltETimeoutA                       // Peer response timeout
	NtfrsltETimeoutBs                      // Block size wait timeout
	NtfrsltETimeoutCr                      // Consecutive frame timeout
	NtfrsltEWrongSN                        // Wrong sequence number
	NtfrsltEProtocol                       // Protocol error
	NtfrsltECancelation                    // Cancelled by request
	NtfrsltENoBuffer                       // No buffer capacity
)

// String returns string representation of NotifResult
func (n NotifResult) String() string {
	switch n {
	case NtfrsltOK:
		return "OK"
	case NtfrsltENotOK:
		return "E_NOT_OK"
	case NtfrsltETimeoutA:
		return "E_TIMEOUT_A"
	case NtfrsltETimeoutBs:
		return "E_TIMEOUT_BS"
	case NtfrsltETimeoutCr:
		return "E_TIMEOUT_CR"
	case NtfrsltEWrongSN:
		return "E_WRONG_SN"
	case NtfrsltEProtocol:
		return "E_PROTOCOL"
	case NtfrsltECancelation:
		return "E_CANCELATION"
	case NtfrsltENoBuffer:
		return "E_NO_BUFFER"
	default:
		return "UNKNOWN"
	}
}

// Result is the outcome of a transfer. The set of implementations is
// closed: Success, GenericFailure, TimeoutFailure, ProtocolFailure,
// ResourceFailure and Cancelled.
type Result interface {
	// Code returns the flat notification code of the outcome
	Code() NotifResult
	// String returns a human readable description
	String() string

	isResult()
}

// IsSuccess reports whether r is a Success
func IsSuccess(r Result) bool {
	_, ok := r.(Success)
	return ok
}

// Success reports a completed transfer
type Success struct{}

func (Success) Code() NotifResult { return NtfrsltOK }
func (Success) String() string    { return "success" }
func (Success) isResult()         {}

// GenericFailure reports a failure outside the other categories
type GenericFailure struct {
	Reason string
}

func (GenericFailure) Code() NotifResult { return NtfrsltENotOK }
func (GenericFailure) isResult()         {}

func (f GenericFailure) String() string {
	if f.Reason == "" {
		return "failure"
	}
	return "failure: " + f.Reason
}

func (f GenericFailure) Error() string { return f.String() }

// TimeoutPhase names the deadline that expired
type TimeoutPhase uint8

const (
	PhasePeerResponse     TimeoutPhase = iota // Waiting for the first flow control
	PhaseBlockWait                            // Waiting for flow control after a block
	PhaseConsecutiveFrame                     // Waiting for the next consecutive frame
)

// String returns string representation of TimeoutPhase
func (p TimeoutPhase) String() string {
	switch p {
	case PhasePeerResponse:
		return "peer response"
	case PhaseBlockWait:
		return "block wait"
	case PhaseConsecutiveFrame:
		return "consecutive frame"
	default:
		return "unknown"
	}
}

// TimeoutFailure reports an expired deadline
type TimeoutFailure struct {
	Phase TimeoutPhase
}

func (TimeoutFailure) isResult() {}

func (f TimeoutFailure) Code() NotifResult {
	switch f.Phase {
	case PhaseBlockWait:
		return NtfrsltETimeoutBs
	case PhaseConsecutiveFrame:
		return NtfrsltETimeoutCr
	default:
		return NtfrsltETimeoutA
	}
}

func (f TimeoutFailure) String() string { return f.Phase.String() + " timeout" }
func (f TimeoutFailure) Error() string  { return f.String() }

// ProtocolKind names a protocol violation
type ProtocolKind uint8

const (
	ProtocolWrongSequence   ProtocolKind = iota // Consecutive frame out of order
	ProtocolMalformed                           // Frame could not be decoded
	ProtocolUnexpectedFrame                     // Frame kind not valid in current state
)

// String returns string representation of ProtocolKind
func (k ProtocolKind) String() string {
	switch k {
	case ProtocolWrongSequence:
		return "wrong sequence number"
	case ProtocolMalformed:
		return "malformed frame"
	case ProtocolUnexpectedFrame:
		return "unexpected frame"
	default:
		return "unknown protocol error"
	}
}

// ProtocolFailure reports a protocol violation by the peer
type ProtocolFailure struct {
	Kind ProtocolKind
}

func (ProtocolFailure) isResult() {}

func (f ProtocolFailure) Code() NotifResult {
	if f.Kind == ProtocolWrongSequence {
		return NtfrsltEWrongSN
	}
	return NtfrsltEProtocol
}

func (f ProtocolFailure) String() string { return f.Kind.String() }
func (f ProtocolFailure) Error() string  { return f.String() }

// ResourceKind names a resource failure
type ResourceKind uint8

const (
	ResourceNoBuffer      ResourceKind = iota // Message exceeds obtainable buffer
	ResourceBusyExhausted                     // Buffer stayed busy past the retry bound
)

// String returns string representation of ResourceKind
func (k ResourceKind) String() string {
	switch k {
	case ResourceNoBuffer:
		return "no buffer capacity"
	case ResourceBusyExhausted:
		return "buffer busy retries exhausted"
	default:
		return "unknown resource error"
	}
}

// ResourceFailure reports missing buffer resources
type ResourceFailure struct {
	Kind ResourceKind
}

func (ResourceFailure) Code() NotifResult { return NtfrsltENoBuffer }
func (ResourceFailure) isResult()         {}

func (f ResourceFailure) String() string { return f.Kind.String() }
func (f ResourceFailure) Error() string  { return f.String() }

// Cancelled reports a transfer aborted by request
type Cancelled struct{}

func (Cancelled) Code() NotifResult { return NtfrsltECancelation }
func (Cancelled) String() string    { return "cancelled" }
func (Cancelled) isResult()         {}
func (Cancelled) Error() string     { return "cancelled" }

// Describe formats a result together with its flat code
func Describe(r Result) string {
	if r == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s (%s)", r.String(), r.Code())
}
