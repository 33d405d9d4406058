package canif

import (
	"errors"
	"fmt"

	"comstack/cantp-go/pkg/cantp"
	"comstack/cantp-go/pkg/types"
)

var (
	ErrUnknownRoute   = errors.New("no route")
	ErrDuplicateRoute = errors.New("duplicate route")
)

// Route binds a PDU to a transport key and the CAN identifiers carrying it.
// Key is the transmit direction: Source is the local node, Target the peer.
// Frames of the key go out on TxID; frames from the peer arrive on RxID.
type Route struct {
	PduID    types.PduID
	Key      cantp.Key
	TxID     types.CANID
	RxID     types.CANID
	Priority types.TxPriority
}

// RxKey returns the key the engine uses for frames received on the route
func (r Route) RxKey() cantp.Key {
	return r.Key.Reverse()
}

// String returns string representation of Route
func (r Route) String() string {
	return fmt.Sprintf("Route{PDU=%d, Key=%s, Tx=%s, Rx=%s}", r.PduID, r.Key, r.TxID, r.RxID)
}

// RouteTable is a static set of routes indexed by PDU ID, key and receive
// identifier. It is not modified after construction.
type RouteTable struct {
	routes []Route
	byPdu  map[types.PduID]int
	byKey  map[cantp.Key]int
	byRxID map[types.CANID]int
}

// NewRouteTable indexes routes. Every PDU ID, key and receive identifier
// must be unique.
func NewRouteTable(routes ...Route) (*RouteTable, error) {
	t := &RouteTable{
		routes: make([]Route, 0, len(routes)),
		byPdu:  make(map[types.PduID]int, len(routes)),
		byKey:  make(map[cantp.Key]int, len(routes)),
		byRxID: make(map[types.CANID]int, len(routes)),
	}

	for _, r := range routes {
		if _, ok := t.byPdu[r.PduID]; ok {
			return nil, fmt.Errorf("pdu %d: %w", r.PduID, ErrDuplicateRoute)
		}
		if _, ok := t.byKey[r.Key]; ok {
			return nil, fmt.Errorf("key %s: %w", r.Key, ErrDuplicateRoute)
		}
		if _, ok := t.byRxID[r.RxID]; ok {
			return nil, fmt.Errorf("rx id %s: %w", r.RxID, ErrDuplicateRoute)
		}

		i := len(t.routes)
		t.routes = append(t.routes, r)
		t.byPdu[r.PduID] = i
		t.byKey[r.Key] = i
		t.byRxID[r.RxID] = i
	}
	return t, nil
}

// ByPduID returns the route of a PDU
func (t *RouteTable) ByPduID(id types.PduID) (Route, bool) {
	i, ok := t.byPdu[id]
	if !ok {
		return Route{}, false
	}
	return t.routes[i], true
}

// ByKey returns the route whose transmit key is key
func (t *RouteTable) ByKey(key cantp.Key) (Route, bool) {
	i, ok := t.byKey[key]
	if !ok {
		return Route{}, false
	}
	return t.routes[i], true
}

// ByRxKey returns the route whose receive key is key
func (t *RouteTable) ByRxKey(key cantp.Key) (Route, bool) {
	return t.ByKey(key.Reverse())
}

// ByRxID returns the route receiving on id
func (t *RouteTable) ByRxID(id types.CANID) (Route, bool) {
	i, ok := t.byRxID[id]
	if !ok {
		return Route{}, false
	}
	return t.routes[i], true
}

// Routes returns a copy of all routes in insertion order
func (t *RouteTable) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// Len returns the number of routes
func (t *RouteTable) Len() int {
	return len(t.routes)
}
