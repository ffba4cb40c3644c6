package chat

// Kind classifies a record in the public feed.
type Kind string

const (
	KindConnect    Kind = "CONNECT"
	KindDisconnect Kind = "DISCONNECT"
	KindChat       Kind = "CHAT"
)

// Valid reports whether k is one of the feed kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindConnect, KindDisconnect, KindChat:
		return true
	}
	return false
}

// IsPresence reports whether the record is a join/leave notice.
func (k Kind) IsPresence() bool {
	return k == KindConnect || k == KindDisconnect
}

// TranslationMode selects server-side translation of a chat message.
type TranslationMode string

const (
	TranslationNone       TranslationMode = "none"
	TranslationKorean     TranslationMode = "ko"
	TranslationEnglish    TranslationMode = "en"
	TranslationVietnamese TranslationMode = "vi"
)

// TranslationModes lists the modes in the order the client offers them.
var TranslationModes = []TranslationMode{
	TranslationNone,
	TranslationKorean,
	TranslationEnglish,
	TranslationVietnamese,
}

// Valid reports whether m is a known translation mode.
func (m TranslationMode) Valid() bool {
	for _, mode := range TranslationModes {
		if m == mode {
			return true
		}
	}
	return false
}

// Label returns the human readable name of m.
func (m TranslationMode) Label() string {
	switch m {
	case TranslationKorean:
		return "Korean"
	case TranslationEnglish:
		return "English"
	case TranslationVietnamese:
		return "Vietnamese"
	default:
		return "No translation"
	}
}

// Next cycles to the following mode, wrapping around.
func (m TranslationMode) Next() TranslationMode {
	for i, mode := range TranslationModes {
		if m == mode {
			return TranslationModes[(i+1)%len(TranslationModes)]
		}
	}
	return TranslationNone
}

// Message is one unit of the public feed. Content is ignored for presence kinds.
type Message struct {
	Sender          string          `json:"sender"`
	Content         string          `json:"content,omitempty"`
	Kind            Kind            `json:"type"`
	TranslationMode TranslationMode `json:"translationMode,omitempty"`
}

// AssistRequest asks the server for a grammar check or a bot answer.
type AssistRequest struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// AssistResult is the private reply to an AssistRequest.
type AssistResult struct {
	Content string `json:"content"`
}
