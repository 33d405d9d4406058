package types

// TxPriority is the priority of a transmission request
type TxPriority uint8

const (
	TxPriorityLow TxPriority = iota
	TxPriorityHigh
)

// String returns string representation of TxPriority
func (p TxPriority) String() string {
	switch p {
	case TxPriorityLow:
		return "Low"
	case TxPriorityHigh:
		return "High"
	default:
		return "Unknown"
	}
}

// ControllerState is the communication state of a bus controller
type ControllerState uint8

const (
	ControllerUninit ControllerState = iota // Not initialised yet
	ControllerStopped
	ControllerStarted
	ControllerSleep
)

// String returns string representation of ControllerState
func (s ControllerState) String() string {
	switch s {
	case ControllerUninit:
		return "Uninit"
	case ControllerStopped:
		return "Stopped"
	case ControllerStarted:
		return "Started"
	case ControllerSleep:
		return "Sleep"
	default:
		return "Unknown"
	}
}

// RoutingResult is the result of routing a PDU
type RoutingResult uint8

const (
	RoutingOK RoutingResult = iota
	RoutingNotOK
)

// String returns string representation of RoutingResult
func (r RoutingResult) String() string {
	if r == RoutingOK {
		return "OK"
	}
	return "NotOK"
}
