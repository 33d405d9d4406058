package channel

import (
	"errors"
	"fmt"
	"io"

	"comstack/cantp-go/pkg/link"
)

// ErrResync reports bytes skipped while searching for an envelope start
var ErrResync = errors.New("envelope resynchronised")

// readEnvelope reads one envelope from a byte stream. Bytes before the
// start sequence are skipped; the envelope is returned together with
// ErrResync when that happened so callers can count the loss.
func readEnvelope(r io.Reader) ([]byte, error) {
	prefix := make([]byte, link.PrefixSize)
	if _, err := io.ReadFull(r, prefix[:2]); err != nil {
		return nil, err
	}

	skipped := 0
	for prefix[0] != link.StartByte1 || prefix[1] != link.StartByte2 {
		prefix[0] = prefix[1]
		if _, err := io.ReadFull(r, prefix[1:2]); err != nil {
			return nil, err
		}
		skipped++
	}

	if _, err := io.ReadFull(r, prefix[2:]); err != nil {
		return nil, err
	}

	size, err := link.EnvelopeLength(prefix)
	if err != nil {
		return nil, err
	}

	envelope := make([]byte, size)
	copy(envelope, prefix)
	if _, err := io.ReadFull(r, envelope[link.PrefixSize:]); err != nil {
		return nil, err
	}

	if skipped > 0 {
		return envelope, fmt.Errorf("%d bytes skipped: %w", skipped, ErrResync)
	}
	return envelope, nil
}
