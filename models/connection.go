package models

// ConnectionState is the lifecycle state of a live ticker connection
type ConnectionState string

const (
	ConnectionConnecting  ConnectionState = "connecting"
	ConnectionOpen        ConnectionState = "open"
	ConnectionClosedClean ConnectionState = "closed_clean"
	ConnectionClosedError ConnectionState = "closed_error"
)

// Gauge returns the numeric value exported for the state
// 0=connecting, 1=open, 2=closed_clean, 3=closed_error
func (s ConnectionState) Gauge() float64 {
	switch s {
	case ConnectionConnecting:
		return 0
	case ConnectionOpen:
		return 1
	case ConnectionClosedClean:
		return 2
	case ConnectionClosedError:
		return 3
	default:
		return -1
	}
}
