package cantp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"comstack/cantp-go/pkg/types"
)

type sentFrame struct {
	key  Key
	data []byte
}

// fakeSink records frames. The next busy calls return ErrTransmitBusy.
type fakeSink struct {
	frames []sentFrame
	busy   int
	err    error
}

func (f *fakeSink) Transmit(key Key, frame []byte) error {
	if f.busy > 0 {
		f.busy--
		return ErrTransmitBusy
	}
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, sentFrame{key: key, data: append([]byte(nil), frame...)})
	return nil
}

func (f *fakeSink) take() []sentFrame {
	out := f.frames
	f.frames = nil
	return out
}

type txNote struct {
	key    Key
	result types.Result
}

type rxNote struct {
	key    Key
	data   []byte
	result types.Result
}

type recorder struct {
	tx []txNote
	rx []rxNote
}

func (r *recorder) TxConfirmation(key Key, result types.Result) {
	r.tx = append(r.tx, txNote{key: key, result: result})
}

func (r *recorder) RxIndication(key Key, info types.PduInfo, result types.Result) {
	r.rx = append(r.rx, rxNote{key: key, data: info.Payload(), result: result})
}

var (
	keyAB = Key{Source: 1, Target: 2}
	keyBA = keyAB.Reverse()
)

func newTestEngine(t *testing.T, mutate func(*Config)) (*Engine, *fakeSink, *recorder) {
	t.Helper()

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	sink := &fakeSink{}
	rec := &recorder{}
	e, err := NewEngine(cfg, sink, rec, nil)
	require.NoError(t, err)
	return e, sink, rec
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + 3)
	}
	return data
}

func ticks(e *Engine, n int) {
	for i := 0; i < n; i++ {
		e.OnTick()
	}
}

// connect shuttles frames between two engines and ticks both until done
// reports true or maxTicks elapse. It returns the frames each side sent.
func connect(a, b *Engine, sa, sb *fakeSink, maxTicks int, done func() bool) (fromA, fromB []sentFrame) {
	for i := 0; i < maxTicks && !done(); i++ {
		for moved := true; moved; {
			moved = false
			for _, f := range sa.take() {
				fromA = append(fromA, f)
				b.OnFrameReceived(f.key, f.data)
				moved = true
			}
			for _, f := range sb.take() {
				fromB = append(fromB, f)
				a.OnFrameReceived(f.key, f.data)
				moved = true
			}
		}
		if done() {
			break
		}
		a.OnTick()
		b.OnTick()
	}
	return fromA, fromB
}
