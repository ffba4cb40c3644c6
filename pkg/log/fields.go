package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"

	// Session
	FieldSessionID   = "session_id"
	FieldUsername    = "username"
	FieldState       = "state"
	FieldDestination = "destination"
	FieldRoute       = "route"
	FieldIntent      = "intent"

	// Component
	FieldComponent = "component"
)
