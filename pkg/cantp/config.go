package cantp

import (
	"fmt"
	"math"
	"time"

	"comstack/cantp-go/pkg/link"
)

// Config holds configuration for the transport protocol engine.
// Timeouts are counted in ticks of TickPeriod.
type Config struct {
	// FrameSize is the data field size of the medium.
	// Default: 8 (classic CAN); 12 to 64 for CAN FD
	FrameSize int

	// Padding fills short frames up to FrameSize when set
	Padding *byte

	// PeerResponseTicks bounds the wait for the first Flow Control after a
	// First Frame (N_Bs for the first block). Default: 1000
	PeerResponseTicks int

	// BlockWaitTicks bounds the wait for a Flow Control after a completed
	// block. Default: 1000
	BlockWaitTicks int

	// ConsecutiveFrameTicks bounds the wait for the next Consecutive Frame
	// (N_Cr). Default: 1000
	ConsecutiveFrameTicks int

	// BlockSize announced to senders, 0 means unbounded. Default: 0
	BlockSize uint8

	// STmin is the separation time announced to senders. Default: 0
	STmin time.Duration

	// MaxWaitFrames bounds consecutive Flow Control WAIT frames, both
	// received (Tx) and sent (Rx). Default: 3
	MaxWaitFrames int

	// MaxTransmitRetries bounds retries of a frame the driver refused with
	// ErrTransmitBusy. Default: 4
	MaxTransmitRetries int

	// WaitRetryTicks is the pause between Rx buffer requests after a busy
	// answer. Default: 10
	WaitRetryTicks int

	// BufferSize is the largest message the engine sends or receives.
	// Default: 4095
	BufferSize int

	// RxSlots is the number of concurrently held Rx buffers. Default: 4
	RxSlots int

	// InboxSize is the capacity of the Post inbox. Default: 256
	InboxSize int

	// TickPeriod is the period OnTick is driven at. Default: 1ms
	TickPeriod time.Duration

	// EnableStatistics enables statistics collection
	EnableStatistics bool
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		FrameSize:             ClassicFrameSize,
		PeerResponseTicks:     1000,
		BlockWaitTicks:        1000,
		ConsecutiveFrameTicks: 1000,
		BlockSize:             0,
		STmin:                 0,
		MaxWaitFrames:         3,
		MaxTransmitRetries:    4,
		WaitRetryTicks:        10,
		BufferSize:            MaxShortFFLength,
		RxSlots:               4,
		InboxSize:             256,
		TickPeriod:            time.Millisecond,
		EnableStatistics:      true,
	}
}

// Validate checks the configuration for unusable values
func (c Config) Validate() error {
	if c.FrameSize < ClassicFrameSize || !link.IsValidDataLength(c.FrameSize) {
		return fmt.Errorf("frame size %d: %w", c.FrameSize, ErrInvalidConfig)
	}
	if c.PeerResponseTicks <= 0 || c.BlockWaitTicks <= 0 || c.ConsecutiveFrameTicks <= 0 {
		return fmt.Errorf("timeouts must be positive: %w", ErrInvalidConfig)
	}
	if c.MaxWaitFrames < 0 || c.MaxTransmitRetries < 0 {
		return fmt.Errorf("retry bounds must not be negative: %w", ErrInvalidConfig)
	}
	if c.WaitRetryTicks <= 0 {
		return fmt.Errorf("wait retry ticks must be positive: %w", ErrInvalidConfig)
	}
	if c.BufferSize > math.MaxUint16 {
		return fmt.Errorf("buffer size %d exceeds pdu length: %w", c.BufferSize, ErrInvalidConfig)
	}
	if c.BufferSize <= 0 || c.RxSlots <= 0 || c.InboxSize <= 0 {
		return fmt.Errorf("buffer size, rx slots and inbox size must be positive: %w", ErrInvalidConfig)
	}
	if c.TickPeriod <= 0 {
		return fmt.Errorf("tick period must be positive: %w", ErrInvalidConfig)
	}
	return nil
}

// Ticks converts a duration to a tick count, rounding up
func (c Config) Ticks(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + c.TickPeriod - 1) / c.TickPeriod)
}
