package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// EventTypeSendStarted is published once the user message and the assistant
	// placeholder have been appended.
	EventTypeSendStarted EventType = "send-started"
	// EventTypeSendRejected is published when a send is refused before any
	// state change (already streaming, empty text, missing credential).
	EventTypeSendRejected EventType = "send-rejected"
	EventTypeThinking     EventType = "thinking"
	EventTypeContentDelta EventType = "content-delta"
	EventTypeFinalized    EventType = "finalized"
	EventTypeHistory      EventType = "history-loaded"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

// EventMetadata ties an event to the conversation and answer it belongs to.
type EventMetadata struct {
	ID             uuid.UUID `json:"event_id" yaml:"event_id"`
	ConversationID string    `json:"conversation_id" yaml:"conversation_id"`
	// Generation is the answer counter of the conversation, see conversation.State.
	Generation uint64 `json:"generation,omitempty" yaml:"generation,omitempty"`
	MessageID  string `json:"message_id,omitempty" yaml:"message_id,omitempty"`
	// Extra carries caller supplied values
	Extra map[string]interface{} `json:"extra,omitempty" yaml:"extra,omitempty"`
}

func NewEventMetadata(conversationID string, generation uint64, messageID string) EventMetadata {
	return EventMetadata{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Generation:     generation,
		MessageID:      messageID,
	}
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("event_id", em.ID.String())
	e.Str("conversation_id", em.ConversationID)
	if em.Generation != 0 {
		e.Uint64("generation", em.Generation)
	}
	if em.MessageID != "" {
		e.Str("message_id", em.MessageID)
	}
	if len(em.Extra) > 0 {
		e.Interface("extra", em.Extra)
	}
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	// store payload if the event was deserialized from JSON (see NewEventFromJson), not further used
	payload []byte
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

// SetPayload stores the raw JSON payload on the event implementation.
func (e *EventImpl) SetPayload(b []byte) {
	e.payload = b
}

var _ Event = &EventImpl{}

type EventSendStarted struct {
	EventImpl
	UserMessageID string `json:"user_message_id"`
	Text          string `json:"text"`
}

func NewSendStartedEvent(metadata EventMetadata, userMessageID string, text string) *EventSendStarted {
	return &EventSendStarted{
		EventImpl: EventImpl{
			Type_:     EventTypeSendStarted,
			Metadata_: metadata,
		},
		UserMessageID: userMessageID,
		Text:          text,
	}
}

var _ Event = &EventSendStarted{}

type EventSendRejected struct {
	EventImpl
	Reason string `json:"reason"`
}

func NewSendRejectedEvent(metadata EventMetadata, reason string) *EventSendRejected {
	return &EventSendRejected{
		EventImpl: EventImpl{
			Type_:     EventTypeSendRejected,
			Metadata_: metadata,
		},
		Reason: reason,
	}
}

var _ Event = &EventSendRejected{}

type EventThinking struct {
	EventImpl
	Message string `json:"message"`
}

func NewThinkingEvent(metadata EventMetadata, message string) *EventThinking {
	return &EventThinking{
		EventImpl: EventImpl{
			Type_:     EventTypeThinking,
			Metadata_: metadata,
		},
		Message: message,
	}
}

var _ Event = &EventThinking{}

// EventContentDelta carries one appended fragment. Offset is the byte length
// of the answer before the fragment; the full text comes with EventFinalized.
type EventContentDelta struct {
	EventImpl
	Delta  string `json:"delta"`
	Offset int    `json:"offset"`
}

func NewContentDeltaEvent(metadata EventMetadata, delta string, offset int) *EventContentDelta {
	return &EventContentDelta{
		EventImpl: EventImpl{
			Type_:     EventTypeContentDelta,
			Metadata_: metadata,
		},
		Delta:  delta,
		Offset: offset,
	}
}

var _ Event = &EventContentDelta{}

type EventFinalized struct {
	EventImpl
	Outcome string `json:"outcome"`
	// Content is the final text of the assistant message, the fallback text on failure.
	Content     string `json:"content"`
	ErrorString string `json:"error_string,omitempty"`
}

func NewFinalizedEvent(metadata EventMetadata, outcome string, content string, err error) *EventFinalized {
	ret := &EventFinalized{
		EventImpl: EventImpl{
			Type_:     EventTypeFinalized,
			Metadata_: metadata,
		},
		Outcome: outcome,
		Content: content,
	}
	if err != nil {
		ret.ErrorString = err.Error()
	}
	return ret
}

var _ Event = &EventFinalized{}

type EventHistoryLoaded struct {
	EventImpl
	Count int `json:"count"`
}

func NewHistoryLoadedEvent(metadata EventMetadata, count int) *EventHistoryLoaded {
	return &EventHistoryLoaded{
		EventImpl: EventImpl{
			Type_:     EventTypeHistory,
			Metadata_: metadata,
		},
		Count: count,
	}
}

var _ Event = &EventHistoryLoaded{}

// NewEventFromJson decodes an event that was serialized by a sink.
func NewEventFromJson(b []byte) (Event, error) {
	var e *EventImpl
	err := json.Unmarshal(b, &e)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("empty event payload")
	}
	e.payload = b

	switch e.Type_ {
	case EventTypeSendStarted:
		return toTyped[EventSendStarted](e)
	case EventTypeSendRejected:
		return toTyped[EventSendRejected](e)
	case EventTypeThinking:
		return toTyped[EventThinking](e)
	case EventTypeContentDelta:
		return toTyped[EventContentDelta](e)
	case EventTypeFinalized:
		return toTyped[EventFinalized](e)
	case EventTypeHistory:
		return toTyped[EventHistoryLoaded](e)
	}

	return nil, fmt.Errorf("unknown event type: %s", e.Type_)
}

type typedEvent[T any] interface {
	*T
	Event
	SetPayload([]byte)
}

func toTyped[T any, PT typedEvent[T]](e Event) (Event, error) {
	ret, ok := ToTypedEvent[T](e)
	if !ok || ret == nil {
		return nil, fmt.Errorf("could not cast event to %T", ret)
	}
	PT(ret).SetPayload(e.Payload())
	return PT(ret), nil
}

// ToTypedEvent re-decodes the raw payload of e into T.
func ToTypedEvent[T any](e Event) (*T, bool) {
	var ret *T
	err := json.Unmarshal(e.Payload(), &ret)
	if err != nil {
		return nil, false
	}

	return ret, true
}
