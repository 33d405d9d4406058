package cantp

import "fmt"

// Address is a transport protocol node address
type Address uint16

// Key identifies an address pair. For transmission Source is the local
// node; for reception Source is the peer.
type Key struct {
	Source Address
	Target Address
}

// Reverse returns the key of the opposite direction
func (k Key) Reverse() Key {
	return Key{Source: k.Target, Target: k.Source}
}

// String returns string representation of Key
func (k Key) String() string {
	return fmt.Sprintf("%d->%d", k.Source, k.Target)
}

// Direction selects the Tx or Rx session of a key
type Direction uint8

const (
	DirectionTx Direction = iota
	DirectionRx
)

// String returns string representation of Direction
func (d Direction) String() string {
	switch d {
	case DirectionTx:
		return "Tx"
	case DirectionRx:
		return "Rx"
	default:
		return "Unknown"
	}
}

// SessionID identifies one session slot in the engine. IDs are reused once
// a session is torn down.
type SessionID uint32

func makeSessionID(slot int, dir Direction) SessionID {
	return SessionID(slot)<<1 | SessionID(dir)
}

// Slot returns the session table index of the ID
func (id SessionID) Slot() int {
	return int(id >> 1)
}

// Direction returns the direction of the ID
func (id SessionID) Direction() Direction {
	return Direction(id & 1)
}

// String returns string representation of SessionID
func (id SessionID) String() string {
	return fmt.Sprintf("%d/%s", id.Slot(), id.Direction())
}
