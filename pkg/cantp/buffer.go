package cantp

import (
	"fmt"

	"comstack/cantp-go/pkg/types"
)

// RxBufferGate lets the upstream consumer take part in Rx buffer
// negotiation. Any answer other than BufReqOK is returned to the session.
type RxBufferGate interface {
	RequestRxBuffer(key Key, length int) types.BufReqResult
}

// RxBufferGateFunc adapts a function to RxBufferGate
type RxBufferGateFunc func(key Key, length int) types.BufReqResult

// RequestRxBuffer calls f
func (f RxBufferGateFunc) RequestRxBuffer(key Key, length int) types.BufReqResult {
	return f(key, length)
}

type heldBuffer struct {
	data []byte
	rx   bool
}

// Broker owns the payload buffers of all sessions.
// Every session holds at most one buffer; Tx buffers are supplied by the
// consumer, Rx buffers are drawn from a pool of RxSlots buffers of at most
// BufferSize bytes.
type Broker struct {
	bufferSize int
	rxSlots    int
	rxHeld     int
	held       map[SessionID]heldBuffer
	gate       RxBufferGate
}

// NewBroker creates a broker
func NewBroker(bufferSize, rxSlots int) *Broker {
	return &Broker{
		bufferSize: bufferSize,
		rxSlots:    rxSlots,
		held:       make(map[SessionID]heldBuffer),
	}
}

// SetGate installs the upstream consumer's buffer gate
func (b *Broker) SetGate(gate RxBufferGate) {
	b.gate = gate
}

// RequestRxBuffer asks for a buffer of length bytes for an Rx session.
// It may be repeated after BufReqBusy while the session holds no buffer.
func (b *Broker) RequestRxBuffer(session SessionID, key Key, length int) types.BufReqResult {
	if _, ok := b.held[session]; ok {
		return types.BufReqNotOK
	}
	if length <= 0 {
		return types.BufReqNotOK
	}
	if length > b.bufferSize {
		return types.BufReqOverflow
	}
	if b.gate != nil {
		if r := b.gate.RequestRxBuffer(key, length); r != types.BufReqOK {
			return r
		}
	}
	if b.rxHeld >= b.rxSlots {
		return types.BufReqBusy
	}

	b.held[session] = heldBuffer{data: make([]byte, length), rx: true}
	b.rxHeld++
	return types.BufReqOK
}

// AttachTxPayload hands the message of a Tx session to the broker
func (b *Broker) AttachTxPayload(session SessionID, payload []byte) error {
	if _, ok := b.held[session]; ok {
		return ErrBufferHeld
	}
	if len(payload) > b.bufferSize {
		return fmt.Errorf("%d bytes: %w", len(payload), ErrPayloadTooLarge)
	}
	b.held[session] = heldBuffer{data: payload}
	return nil
}

// Buffer returns the buffer held by the session
func (b *Broker) Buffer(session SessionID) []byte {
	return b.held[session].data
}

// Handoff removes a completed Rx buffer from the broker and returns it.
// The caller owns the returned slice.
func (b *Broker) Handoff(session SessionID) []byte {
	h, ok := b.held[session]
	if !ok {
		return nil
	}
	b.drop(session, h)
	return h.data
}

// ReleaseBuffer returns the session's buffer to its owner.
// It reports whether a buffer was held; releasing twice is a no-op.
func (b *Broker) ReleaseBuffer(session SessionID) bool {
	h, ok := b.held[session]
	if !ok {
		return false
	}
	b.drop(session, h)
	return true
}

func (b *Broker) drop(session SessionID, h heldBuffer) {
	delete(b.held, session)
	if h.rx {
		b.rxHeld--
	}
}

// Held returns the number of buffers currently held
func (b *Broker) Held() int {
	return len(b.held)
}

// RxHeld returns the number of Rx pool buffers currently held
func (b *Broker) RxHeld() int {
	return b.rxHeld
}
