// Package codec converts between chat records and the JSON payloads carried in
// STOMP frame bodies.
package codec

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/zhouzirui/ligochat/internal/model/chat"
)

// ContentType is the STOMP content-type of every payload produced by Encode.
const ContentType = "application/json"

// ErrMalformed is wrapped by every DecodeError.
var ErrMalformed = errors.New("malformed payload")

// DecodeError reports an inbound payload that is not a valid record.
type DecodeError struct {
	Shape  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s: %s: %v", e.Shape, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %s: %s", e.Shape, e.Reason)
}

func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrMalformed, e.Err}
	}
	return []error{ErrMalformed}
}

// Encode serializes an outbound record.
func Encode(v any) ([]byte, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return data, nil
}

type wireMessage struct {
	Sender          *string `json:"sender"`
	Content         *string `json:"content"`
	Kind            *string `json:"type"`
	TranslationMode *string `json:"translationMode"`
}

type wireResult struct {
	Content *string `json:"content"`
}

// DecodeMessage parses a public-feed payload.
func DecodeMessage(payload []byte) (chat.Message, error) {
	const shape = "chat message"

	var w wireMessage
	if err := sonic.Unmarshal(payload, &w); err != nil {
		return chat.Message{}, &DecodeError{Shape: shape, Reason: "invalid json", Err: err}
	}
	if w.Sender == nil || *w.Sender == "" {
		return chat.Message{}, &DecodeError{Shape: shape, Reason: "missing sender"}
	}
	if w.Kind == nil {
		return chat.Message{}, &DecodeError{Shape: shape, Reason: "missing type"}
	}

	kind := chat.Kind(*w.Kind)
	if !kind.Valid() {
		return chat.Message{}, &DecodeError{Shape: shape, Reason: fmt.Sprintf("unknown type %q", *w.Kind)}
	}

	msg := chat.Message{Sender: *w.Sender, Kind: kind}
	if w.Content != nil {
		msg.Content = *w.Content
	}
	if kind.IsPresence() {
		return msg, nil
	}

	if msg.Content == "" {
		return chat.Message{}, &DecodeError{Shape: shape, Reason: "empty content"}
	}

	msg.TranslationMode = chat.TranslationNone
	if w.TranslationMode != nil && *w.TranslationMode != "" {
		mode := chat.TranslationMode(*w.TranslationMode)
		if !mode.Valid() {
			return chat.Message{}, &DecodeError{Shape: shape, Reason: fmt.Sprintf("unknown translationMode %q", *w.TranslationMode)}
		}
		msg.TranslationMode = mode
	}
	return msg, nil
}

// DecodeResult parses a grammar-result or bot-result payload.
func DecodeResult(payload []byte) (chat.AssistResult, error) {
	const shape = "assist result"

	var w wireResult
	if err := sonic.Unmarshal(payload, &w); err != nil {
		return chat.AssistResult{}, &DecodeError{Shape: shape, Reason: "invalid json", Err: err}
	}
	if w.Content == nil {
		return chat.AssistResult{}, &DecodeError{Shape: shape, Reason: "missing content"}
	}
	return chat.AssistResult{Content: *w.Content}, nil
}
