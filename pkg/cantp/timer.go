package cantp

import "slices"

// TimerKind names the deadline a session is waiting on
type TimerKind uint8

const (
	TimerPeerResponse     TimerKind = iota // Tx: first flow control after a First Frame
	TimerBlockWait                         // Tx: flow control after a completed block
	TimerConsecutiveFrame                  // Rx: next consecutive frame
)

// String returns string representation of TimerKind
func (k TimerKind) String() string {
	switch k {
	case TimerPeerResponse:
		return "PeerResponse"
	case TimerBlockWait:
		return "BlockWait"
	case TimerConsecutiveFrame:
		return "ConsecutiveFrame"
	default:
		return "Unknown"
	}
}

// Expiry reports a timer that reached zero
type Expiry struct {
	Session SessionID
	Kind    TimerKind
}

type countdown struct {
	kind      TimerKind
	remaining int
}

// Supervisor tracks one countdown per session, measured in ticks.
// It performs no I/O and is not safe for concurrent use.
type Supervisor struct {
	timers map[SessionID]countdown
}

// NewSupervisor creates an empty timer supervisor
func NewSupervisor() *Supervisor {
	return &Supervisor{timers: make(map[SessionID]countdown)}
}

// Arm starts a timer for the session, replacing any timer it already has.
// A timer armed with ticks <= 0 expires on the next Tick.
func (s *Supervisor) Arm(session SessionID, kind TimerKind, ticks int) {
	if ticks < 1 {
		ticks = 1
	}
	s.timers[session] = countdown{kind: kind, remaining: ticks}
}

// Cancel stops the session's timer. Cancelling an unarmed session is a no-op.
func (s *Supervisor) Cancel(session SessionID) {
	delete(s.timers, session)
}

// Armed returns the kind and remaining ticks of the session's timer
func (s *Supervisor) Armed(session SessionID) (TimerKind, int, bool) {
	t, ok := s.timers[session]
	return t.kind, t.remaining, ok
}

// Tick advances every timer by one tick and returns the timers that just
// reached zero, ordered by session. Expired timers are disarmed.
func (s *Supervisor) Tick() []Expiry {
	var expired []Expiry
	for id, t := range s.timers {
		t.remaining--
		if t.remaining <= 0 {
			expired = append(expired, Expiry{Session: id, Kind: t.kind})
			delete(s.timers, id)
			continue
		}
		s.timers[id] = t
	}

	slices.SortFunc(expired, func(a, b Expiry) int {
		return int(a.Session) - int(b.Session)
	})
	return expired
}

// Len returns the number of armed timers
func (s *Supervisor) Len() int {
	return len(s.timers)
}
