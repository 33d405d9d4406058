// Package trace records CAN frames crossing the interface as a stream of
// CBOR items and reads them back.
package trace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	cbor "github.com/fxamacker/cbor/v2"

	"comstack/cantp-go/pkg/cantp"
	"comstack/cantp-go/pkg/link"
	"comstack/cantp-go/pkg/types"
)

// Record is one traced frame
type Record struct {
	Time time.Time       `cbor:"1,keyasint"`
	Dir  cantp.Direction `cbor:"2,keyasint"`
	ID   types.CANID     `cbor:"3,keyasint"`
	FD   bool            `cbor:"4,keyasint,omitempty"`
	BRS  bool            `cbor:"5,keyasint,omitempty"`
	Data []byte          `cbor:"6,keyasint"`
}

// Frame returns the traced frame
func (r Record) Frame() *link.Frame {
	return &link.Frame{ID: r.ID, FD: r.FD, BRS: r.BRS, Data: r.Data}
}

// String returns string representation of Record
func (r Record) String() string {
	return fmt.Sprintf("%s %s %s % X", r.Time.Format(time.RFC3339Nano), r.Dir, r.ID, r.Data)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	if encMode, err = opts.EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

// Recorder appends records to a writer. It is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	w     io.Writer
	enc   *cbor.Encoder
	now   func() time.Time
	count uint64
	err   error
}

// NewRecorder creates a recorder writing to w
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: w, enc: encMode.NewEncoder(w), now: time.Now}
}

// Create creates (or truncates) the file at path and records to it
func Create(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trace: %w", err)
	}
	return NewRecorder(f), nil
}

// Record appends frame seen in direction dir
func (r *Recorder) Record(dir cantp.Direction, frame *link.Frame) error {
	data := make([]byte, len(frame.Data))
	copy(data, frame.Data)

	r.mu.Lock()
	defer r.mu.Unlock()

	rec := Record{Time: r.now(), Dir: dir, ID: frame.ID, FD: frame.FD, BRS: frame.BRS, Data: data}
	if err := r.enc.Encode(rec); err != nil {
		r.err = err
		return fmt.Errorf("encode trace record: %w", err)
	}
	r.count++
	return nil
}

// Observe records a frame and keeps the error for Err. Its signature
// matches canif.TapFunc.
func (r *Recorder) Observe(dir cantp.Direction, frame *link.Frame) {
	_ = r.Record(dir, frame)
}

// Count returns the number of records written
func (r *Recorder) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Err returns the last write error
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close closes the underlying writer if it is an io.Closer
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Reader decodes records from a trace stream
type Reader struct {
	dec *cbor.Decoder
}

// NewReader creates a reader of the stream r
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: decMode.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the stream
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("decode trace record: %w", err)
	}
	return rec, nil
}

// ReadAll decodes every record of r
func ReadAll(r io.Reader) ([]Record, error) {
	tr := NewReader(r)
	var out []Record
	for {
		rec, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
