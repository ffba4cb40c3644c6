package chat

// Status is the connection lifecycle state of a session.
type Status string

const (
	StatusConnecting   Status = "CONNECTING"
	StatusConnected    Status = "CONNECTED"
	StatusDisconnected Status = "DISCONNECTED"
	StatusFailed       Status = "FAILED"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusDisconnected || s == StatusFailed
}

// CanTransition reports whether from -> to is an edge of the session state machine.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusConnecting:
		return to == StatusConnected || to == StatusFailed
	case StatusConnected:
		return to == StatusDisconnected || to == StatusFailed
	default:
		return false
	}
}

// SessionState is the UI-facing state of one chat session.
type SessionState struct {
	ID                string    `json:"id"`
	Username          string    `json:"username"`
	Status            Status    `json:"status"`
	Feed              []Message `json:"feed"`
	LastGrammarResult *string   `json:"lastGrammarResult,omitempty"`
	LastBotAnswer     *string   `json:"lastBotAnswer,omitempty"`
}

// Clone returns a copy that shares no mutable memory with s.
func (s SessionState) Clone() SessionState {
	out := s
	out.Feed = make([]Message, len(s.Feed))
	copy(out.Feed, s.Feed)
	if s.LastGrammarResult != nil {
		v := *s.LastGrammarResult
		out.LastGrammarResult = &v
	}
	if s.LastBotAnswer != nil {
		v := *s.LastBotAnswer
		out.LastBotAnswer = &v
	}
	return out
}
