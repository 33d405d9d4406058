package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"comstack/cantp-go/pkg/link"
)

// serialPort is the part of serial.Port the channel uses
type serialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// openSerialPort opens a device, replaced in tests
var openSerialPort = func(name string, mode *serial.Mode) (serialPort, error) {
	return serial.Open(name, mode)
}

// SerialChannelConfig configures an SLCAN serial adapter
type SerialChannelConfig struct {
	Port        string        // Device name, e.g. /dev/ttyACM0 or COM3
	BaudRate    int           // Serial baud rate (0 = 115200)
	Bitrate     int           // CAN bus bitrate (0 = 500000)
	ListenOnly  bool          // Open the bus without acknowledging frames
	ReadTimeout time.Duration // Read poll interval (0 = 100ms)
}

// SerialChannel implements PhysicalChannel for SLCAN adapters.
// Read and Write exchange envelopes; the channel translates them to and
// from SLCAN lines.
type SerialChannel struct {
	stateNotifier

	port     serialPort
	portName string
	writeMu  sync.Mutex

	splitter slcanSplitter
	lines    [][]byte

	stats transportCounters

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// NewSerialChannel opens the adapter and the CAN bus
func NewSerialChannel(config SerialChannelConfig) (*SerialChannel, error) {
	if config.Port == "" {
		return nil, fmt.Errorf("port is required")
	}
	if config.BaudRate == 0 {
		config.BaudRate = 115200
	}

	port, err := openSerialPort(config.Port, &serial.Mode{
		BaudRate: config.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", config.Port, err)
	}

	sc, err := newSerialChannel(port, config)
	if err != nil {
		port.Close()
		return nil, err
	}
	return sc, nil
}

func newSerialChannel(port serialPort, config SerialChannelConfig) (*SerialChannel, error) {
	if config.Bitrate == 0 {
		config.Bitrate = 500000
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 100 * time.Millisecond
	}

	bitrate, err := SLCANBitrateCommand(config.Bitrate)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(config.ReadTimeout); err != nil {
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	open := []byte("O\r")
	if config.ListenOnly {
		open = []byte("L\r")
	}

	// Close a bus left open by a previous session before configuring
	for _, cmd := range [][]byte{[]byte("C\r"), bitrate, open} {
		if _, err := port.Write(cmd); err != nil {
			return nil, fmt.Errorf("slcan command %q: %w", cmd[:len(cmd)-1], err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sc := &SerialChannel{
		port:     port,
		portName: config.Port,
		ctx:      ctx,
		cancel:   cancel,
	}
	sc.stats.connects.Add(1)
	return sc, nil
}

// Read implements PhysicalChannel.Read
func (sc *SerialChannel) Read(ctx context.Context) ([]byte, error) {
	buf := make([]byte, 256)

	for {
		for len(sc.lines) > 0 {
			line := sc.lines[0]
			sc.lines = sc.lines[1:]

			if line == nil {
				sc.stats.readErrors.Add(1)
				continue
			}
			frame, err := DecodeSLCAN(line)
			if err != nil {
				// Command acknowledgements such as z/Z are not frames
				sc.stats.readErrors.Add(1)
				continue
			}
			envelope, err := frame.Serialize()
			if err != nil {
				sc.stats.readErrors.Add(1)
				continue
			}
			return envelope, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-sc.ctx.Done():
			return nil, ErrChannelClosed
		default:
		}

		// Returns 0, nil on timeout
		n, err := sc.port.Read(buf)
		if err != nil {
			if sc.closed.Load() {
				return nil, ErrChannelClosed
			}
			sc.stats.readErrors.Add(1)
			return nil, err
		}
		sc.stats.bytesReceived.Add(uint64(n))
		sc.lines = append(sc.lines, sc.splitter.feed(buf[:n])...)
	}
}

// Write implements PhysicalChannel.Write
func (sc *SerialChannel) Write(ctx context.Context, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-sc.ctx.Done():
		return ErrChannelClosed
	default:
	}

	frame, _, err := link.Parse(data)
	if err != nil {
		sc.stats.writeErrors.Add(1)
		return err
	}
	line, err := EncodeSLCAN(frame)
	if err != nil {
		sc.stats.writeErrors.Add(1)
		return err
	}

	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()

	if _, err := sc.port.Write(line); err != nil {
		sc.stats.writeErrors.Add(1)
		return err
	}
	sc.stats.bytesSent.Add(uint64(len(line)))
	return nil
}

// Close closes the CAN bus and the serial port
func (sc *SerialChannel) Close() error {
	if !sc.closed.CompareAndSwap(false, true) {
		return nil
	}
	sc.cancel()

	sc.writeMu.Lock()
	_, werr := sc.port.Write([]byte("C\r"))
	sc.writeMu.Unlock()

	err := sc.port.Close()
	sc.stats.disconnects.Add(1)
	return errors.Join(werr, err)
}

// Statistics implements PhysicalChannel.Statistics
func (sc *SerialChannel) Statistics() TransportStats {
	return sc.stats.snapshot()
}

// PortName returns the device name
func (sc *SerialChannel) PortName() string {
	return sc.portName
}
