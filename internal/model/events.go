package model

// EventType names a message pushed to stream clients
type EventType string

const (
	// EventConnected is sent once when a stream opens
	EventConnected EventType = "connected"
	// EventSession carries a viewer-specific snapshot of the session
	EventSession EventType = "session"
	// EventRemoved tells a viewer they are no longer a participant
	EventRemoved EventType = "removed"
)
