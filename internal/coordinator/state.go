package coordinator

type State int

const (
	StateUninitialized State = iota
	StateElectingLeader
	StateStable
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateElectingLeader:
		return "ELECTING_LEADER"
	case StateStable:
		return "STABLE"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}
