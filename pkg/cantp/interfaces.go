package cantp

import "comstack/cantp-go/pkg/types"

// Sink accepts raw frames for transmission on the bus.
// Transmit must not block; ErrTransmitBusy asks the engine to retry later.
// A nil return is the local confirmation of the frame.
type Sink interface {
	Transmit(key Key, frame []byte) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(key Key, frame []byte) error

// Transmit calls f
func (f SinkFunc) Transmit(key Key, frame []byte) error {
	return f(key, frame)
}

// Listener receives exactly one notification per finished session
type Listener interface {
	// TxConfirmation reports the outcome of a StartTx
	TxConfirmation(key Key, result types.Result)

	// RxIndication reports a received message, or a failed reception with
	// an empty PduInfo. On success the caller owns info.Data.
	RxIndication(key Key, info types.PduInfo, result types.Result)
}

// ListenerFuncs adapts optional functions to Listener
type ListenerFuncs struct {
	OnTxConfirmation func(key Key, result types.Result)
	OnRxIndication   func(key Key, info types.PduInfo, result types.Result)
}

// TxConfirmation calls OnTxConfirmation if set
func (l ListenerFuncs) TxConfirmation(key Key, result types.Result) {
	if l.OnTxConfirmation != nil {
		l.OnTxConfirmation(key, result)
	}
}

// RxIndication calls OnRxIndication if set
func (l ListenerFuncs) RxIndication(key Key, info types.PduInfo, result types.Result) {
	if l.OnRxIndication != nil {
		l.OnRxIndication(key, info, result)
	}
}
