package core

// EventLogger records session lifecycle events. Defining it here keeps core
// free of the observability package.
type EventLogger interface {
	LogEvent(eventType string, data map[string]any) error
}
