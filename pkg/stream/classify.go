package stream

import (
	"encoding/json"
)

// DefaultThinkingMessage is used when a thinking payload carries no message.
const DefaultThinkingMessage = "正在思考..."

type EventKind string

const (
	EventKindThinking     EventKind = "thinking"
	EventKindContentDelta EventKind = "content-delta"
	EventKindUnrecognized EventKind = "unrecognized"
)

// Event is the classified form of one data frame. The set of implementations
// is closed: Thinking, ContentDelta and Unrecognized.
type Event interface {
	Kind() EventKind
	isEvent()
}

// Thinking is an out-of-band status update without content.
type Thinking struct {
	Message string
}

// ContentDelta is the next fragment of the assistant answer.
type ContentDelta struct {
	Text string
}

// UnrecognizedReason tells why a frame was not classified.
type UnrecognizedReason string

const (
	ReasonInvalidJSON  UnrecognizedReason = "invalid-json"
	ReasonUnknownShape UnrecognizedReason = "unknown-shape"
	ReasonServerError  UnrecognizedReason = "server-error"
)

// Unrecognized frames are ignored by the reducer. They never end a stream.
type Unrecognized struct {
	Payload string
	Reason  UnrecognizedReason
	// Detail holds the server supplied message for ReasonServerError.
	Detail string
}

func (Thinking) Kind() EventKind     { return EventKindThinking }
func (ContentDelta) Kind() EventKind { return EventKindContentDelta }
func (Unrecognized) Kind() EventKind { return EventKindUnrecognized }

func (Thinking) isEvent()     {}
func (ContentDelta) isEvent() {}
func (Unrecognized) isEvent() {}

type payloadShape struct {
	Status  *string `json:"status"`
	Message *string `json:"message"`
	Content *string `json:"content"`
	Error   *string `json:"error"`
}

// Classify parses a frame payload and decides which event it is.
//
// content wins over status when both are present. Fields of an unexpected
// JSON type make the payload Unrecognized instead of failing the stream.
func Classify(payload string) Event {
	return ClassifyWithDefault(payload, DefaultThinkingMessage)
}

// ClassifyWithDefault is Classify with a custom message for thinking payloads
// that carry none.
func ClassifyWithDefault(payload string, defaultThinking string) Event {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &fields); err != nil || fields == nil {
		return Unrecognized{Payload: payload, Reason: ReasonInvalidJSON}
	}

	shape := payloadShape{
		Status:  stringField(fields, "status"),
		Message: stringField(fields, "message"),
		Content: stringField(fields, "content"),
		Error:   stringField(fields, "error"),
	}

	switch {
	case shape.Content != nil && *shape.Content != "":
		return ContentDelta{Text: *shape.Content}
	case shape.Status != nil && *shape.Status == "thinking":
		msg := defaultThinking
		if shape.Message != nil && *shape.Message != "" {
			msg = *shape.Message
		}
		return Thinking{Message: msg}
	case shape.Error != nil:
		return Unrecognized{Payload: payload, Reason: ReasonServerError, Detail: *shape.Error}
	default:
		return Unrecognized{Payload: payload, Reason: ReasonUnknownShape}
	}
}

func stringField(fields map[string]json.RawMessage, key string) *string {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}
