package stack

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"comstack/cantp-go/pkg/canif"
	"comstack/cantp-go/pkg/cantp"
	"comstack/cantp-go/pkg/channel"
	"comstack/cantp-go/pkg/config"
	"comstack/cantp-go/pkg/internal/logger"
	"comstack/cantp-go/pkg/trace"
	"comstack/cantp-go/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const diagPdu types.PduID = 1

var (
	testerRoute = canif.Route{
		PduID: diagPdu,
		Key:   cantp.Key{Source: 0xF1, Target: 0x10},
		TxID:  types.MakeStdID(0x7E0),
		RxID:  types.MakeStdID(0x7E8),
	}
	ecuRoute = canif.Route{
		PduID: diagPdu,
		Key:   cantp.Key{Source: 0x10, Target: 0xF1},
		TxID:  types.MakeStdID(0x7E8),
		RxID:  types.MakeStdID(0x7E0),
	}
)

type received struct {
	pduID  types.PduID
	data   []byte
	result types.Result
}

// events collects callback outcomes
type events struct {
	tx chan types.Result
	rx chan received
}

func newEvents() *events {
	return &events{tx: make(chan types.Result, 16), rx: make(chan received, 16)}
}

func (e *events) callbacks() Callbacks {
	return Callbacks{
		OnTxConfirmation: func(_ types.PduID, r types.Result) { e.tx <- r },
		OnRxIndication: func(id types.PduID, data []byte, r types.Result) {
			e.rx <- received{pduID: id, data: data, result: r}
		},
	}
}

func waitTx(t *testing.T, e *events) types.Result {
	t.Helper()
	select {
	case r := <-e.tx:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for confirmation")
		return nil
	}
}

func waitRx(t *testing.T, e *events) received {
	t.Helper()
	select {
	case r := <-e.rx:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for indication")
		return received{}
	}
}

func testOptions(name string, route canif.Route) Options {
	return Options{
		Name:   name,
		Engine: cantp.DefaultConfig(),
		Routes: []canif.Route{route},
		Logger: logger.NewNoOpLogger(),
	}
}

func payload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i * 7)
	}
	return p
}

// TestStack_Exchange tests a request and a reply sent from the receive
// callback
func TestStack_Exchange(t *testing.T) {
	a, b := channel.NewLoopbackPair(64)

	tester := newEvents()
	ts, err := New(testOptions("tester", testerRoute), a, tester.callbacks())
	require.NoError(t, err)

	ecuTx := make(chan types.Result, 4)
	reply := payload(40)
	var ecu *Stack
	var requests [][]byte
	var mu sync.Mutex
	ecu, err = New(testOptions("ecu", ecuRoute), b, Callbacks{
		OnTxConfirmation: func(_ types.PduID, r types.Result) { ecuTx <- r },
		OnRxIndication: func(id types.PduID, data []byte, r types.Result) {
			mu.Lock()
			requests = append(requests, data)
			mu.Unlock()
			assert.NoError(t, ecu.Send(id, reply))
		},
	})
	require.NoError(t, err)

	require.NoError(t, ts.Start())
	require.NoError(t, ecu.Start())
	defer ecu.Stop()
	defer ts.Stop()

	request := payload(200)
	require.NoError(t, ts.Send(diagPdu, request))

	assert.True(t, types.IsSuccess(waitTx(t, tester)))
	got := waitRx(t, tester)
	assert.Equal(t, diagPdu, got.pduID)
	assert.True(t, types.IsSuccess(got.result))
	assert.Equal(t, reply, got.data)
	assert.True(t, types.IsSuccess(<-ecuTx))

	mu.Lock()
	assert.Equal(t, [][]byte{request}, requests)
	mu.Unlock()

	stats := ts.Statistics()
	assert.Equal(t, uint64(1), stats.Engine.TxMessages)
	assert.Equal(t, uint64(1), stats.Engine.RxMessages)
	// 200 bytes: FF + 28 CF out, one FC in and the 40 byte reply
	assert.Equal(t, uint64(29+1), stats.Interface.TxFrames)
	assert.Equal(t, stats.Interface.TxFrames, stats.Channel.FramesTx)
	assert.NotZero(t, stats.Physical.BytesSent)
	assert.Eventually(t, func() bool { return ts.Statistics().Sessions == 0 },
		time.Second, 5*time.Millisecond)
}

// TestStack_StopCancels tests that stopping reports sessions as cancelled
func TestStack_StopCancels(t *testing.T) {
	a, b := channel.NewLoopbackPair(64)
	defer b.Close()

	ev := newEvents()
	s, err := New(testOptions("tester", testerRoute), a, ev.callbacks())
	require.NoError(t, err)
	require.NoError(t, s.Start())

	// Nobody answers the First Frame
	require.NoError(t, s.Send(diagPdu, payload(100)))
	assert.ErrorIs(t, s.Send(diagPdu, payload(100)), cantp.ErrBusy)

	sessions, err := s.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, cantp.DirectionTx, sessions[0].Direction)
	assert.Equal(t, 1, s.Statistics().Sessions)

	require.NoError(t, s.Stop())
	result := waitTx(t, ev)
	assert.Equal(t, types.NtfrsltECancelation, result.Code())
	assert.Equal(t, types.ControllerStopped, s.Controller().State())
}

// TestStack_Cancel tests cancelling a transfer by PDU
func TestStack_Cancel(t *testing.T) {
	a, b := channel.NewLoopbackPair(64)
	defer b.Close()

	ev := newEvents()
	s, err := New(testOptions("tester", testerRoute), a, ev.callbacks())
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	require.NoError(t, s.Send(diagPdu, payload(100)))
	require.NoError(t, s.Cancel(diagPdu, cantp.DirectionTx))
	assert.Equal(t, types.NtfrsltECancelation, waitTx(t, ev).Code())

	assert.ErrorIs(t, s.Cancel(99, cantp.DirectionTx), ErrUnknownPdu)
	assert.ErrorIs(t, s.Send(99, []byte{1}), ErrUnknownPdu)
	assert.ErrorIs(t, s.Send(diagPdu, nil), cantp.ErrEmptyPayload)
}

// TestStack_Lifecycle tests start and stop rules
func TestStack_Lifecycle(t *testing.T) {
	a, b := channel.NewLoopbackPair(8)
	defer b.Close()

	s, err := New(testOptions("tester", testerRoute), a, Callbacks{})
	require.NoError(t, err)
	assert.False(t, s.Running())
	assert.ErrorIs(t, s.Send(diagPdu, []byte{1}), ErrNotRunning)
	_, err = s.Sessions()
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), ErrAlreadyRunning)
	assert.True(t, s.Running())
	assert.Contains(t, s.String(), "tester")

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Start(), ErrStopped)
	assert.ErrorIs(t, s.Send(diagPdu, []byte{1}), ErrNotRunning)
}

// TestNew_Errors tests rejected options
func TestNew_Errors(t *testing.T) {
	a, b := channel.NewLoopbackPair(8)
	defer a.Close()
	defer b.Close()

	opts := testOptions("bad", testerRoute)
	opts.Tags = []string{"NOPE"}
	_, err := New(opts, a, Callbacks{})
	assert.Error(t, err)

	opts = testOptions("bad", testerRoute)
	opts.Engine.TickPeriod = 0
	_, err = New(opts, a, Callbacks{})
	assert.ErrorIs(t, err, cantp.ErrInvalidConfig)

	opts = testOptions("bad", testerRoute)
	opts.Routes = []canif.Route{testerRoute, testerRoute}
	_, err = New(opts, a, Callbacks{})
	assert.ErrorIs(t, err, canif.ErrDuplicateRoute)
}

// TestNewFromConfig tests building a traced node from configuration
func TestNewFromConfig(t *testing.T) {
	a, b := channel.NewLoopbackPair(64)

	cfg := config.Default()
	cfg.Trace.Enable = true
	cfg.Trace.Path = filepath.Join(t.TempDir(), "bus.cbor")
	cfg.Routes = []config.RouteConfig{{PduID: 1, Source: 0xF1, Target: 0x10, TxID: 0x7E0, RxID: 0x7E8}}

	tester := newEvents()
	ts, err := NewFromConfig(cfg, a, tester.callbacks())
	require.NoError(t, err)

	ecuEvents := newEvents()
	ecu, err := New(testOptions("ecu", ecuRoute), b, ecuEvents.callbacks())
	require.NoError(t, err)

	require.NoError(t, ts.Start())
	require.NoError(t, ecu.Start())

	require.NoError(t, ts.Send(diagPdu, payload(20)))
	assert.True(t, types.IsSuccess(waitTx(t, tester)))
	got := waitRx(t, ecuEvents)
	assert.Equal(t, payload(20), got.data)

	require.NoError(t, ts.Stop())
	require.NoError(t, ecu.Stop())

	f, err := os.Open(cfg.Trace.Path)
	require.NoError(t, err)
	defer f.Close()
	records, err := trace.ReadAll(f)
	require.NoError(t, err)

	// FF, FC, 2 CF
	require.Len(t, records, 4)
	assert.Equal(t, cantp.DirectionTx, records[0].Dir)
	assert.Equal(t, types.MakeStdID(0x7E0), records[0].ID)
	assert.Equal(t, cantp.DirectionRx, records[1].Dir)
	assert.Equal(t, byte(0x30), records[1].Data[0])
}

// TestOpenPhysical tests medium selection
func TestOpenPhysical(t *testing.T) {
	phys, err := OpenPhysical(config.ChannelConfig{Kind: "udp", Address: "127.0.0.1:0", Server: true})
	require.NoError(t, err)
	require.NoError(t, phys.Close())

	_, err = OpenPhysical(config.ChannelConfig{Kind: "can-over-smoke"})
	assert.Error(t, err)
}
