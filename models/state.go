package models

// ConnectionState is the network/broker lifecycle stage of a unit
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	NetworkConnecting
	NetworkUp
	BrokerConnecting
	Ready
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case NetworkConnecting:
		return "network_connecting"
	case NetworkUp:
		return "network_up"
	case BrokerConnecting:
		return "broker_connecting"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// ActuationState is the state of the unit's single actuation state machine
type ActuationState int

const (
	Idle ActuationState = iota
	Acting
	Completed
	Error
)

func (s ActuationState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Acting:
		return "acting"
	case Completed:
		return "completed"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}
