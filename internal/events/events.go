// Package events holds the typed payloads the shipped adapters emit. The
// runtime itself treats payloads as opaque; these types exist so adapters
// share consistent field names for the downstream inventory.
package events

// Event is implemented by every typed payload.
type Event interface {
	EventType() string
}

// Emit hands a typed event to an emit callback.
func Emit(emit func(eventType string, payload any), ev Event) {
	emit(ev.EventType(), ev)
}
