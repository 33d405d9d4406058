package cantp

import "errors"

var (
	// ErrBusy is returned by StartTx when the key already has a Tx session
	ErrBusy = errors.New("session busy")

	// ErrTransmitBusy is returned by a Sink that cannot accept a frame now.
	// The engine retries the frame on later ticks.
	ErrTransmitBusy = errors.New("transmit busy")

	ErrEmptyPayload    = errors.New("empty payload")
	ErrPayloadTooLarge = errors.New("payload exceeds buffer size")
	ErrFrameCapacity   = errors.New("data exceeds frame capacity")
	ErrInvalidSequence = errors.New("sequence number out of range")
	ErrInvalidStatus   = errors.New("invalid flow status")
	ErrInvalidLength   = errors.New("invalid frame length")
	ErrUnknownFrame    = errors.New("unknown frame type")
	ErrFrameTooShort   = errors.New("frame too short")
	ErrBufferHeld      = errors.New("buffer already held")
	ErrInboxFull       = errors.New("inbox full")
	ErrInvalidConfig   = errors.New("invalid configuration")
)
