package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/zhenchat/pkg/helpers"
)

// StoreEventHandler receives the typed events of a session store.
type StoreEventHandler interface {
	HandleSendStarted(ctx context.Context, e *EventSendStarted) error
	HandleSendRejected(ctx context.Context, e *EventSendRejected) error
	HandleThinking(ctx context.Context, e *EventThinking) error
	HandleContentDelta(ctx context.Context, e *EventContentDelta) error
	HandleFinalized(ctx context.Context, e *EventFinalized) error
	HandleHistoryLoaded(ctx context.Context, e *EventHistoryLoaded) error
}

// EventRouter wires a watermill gochannel pubsub to a router, so sinks can
// publish store events and handlers can consume them on named topics.
type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
	verbose    bool
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		r.verbose = verbose
		if verbose {
			r.logger = helpers.NewWatermill(log.Logger)
		}
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
	}

	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = goPubSub
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}

	ret.router = router

	return ret, nil
}

// Sink returns an EventSink publishing to topic on this router.
func (e *EventRouter) Sink(topic string) *WatermillSink {
	return NewWatermillSink(e.Publisher, topic)
}

func (e *EventRouter) Close() error {
	log.Debug().Msg("Closing publisher")
	err := e.Publisher.Close()
	if err != nil {
		log.Error().Err(err).Msg("Failed to close pubsub")
		// not returning just yet
	}

	log.Debug().Msg("Closing router")
	err = e.router.Close()
	if err != nil {
		log.Error().Err(err).Msg("Failed to close router")
	}

	return nil
}

func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// AddStoreEventHandler registers handler for the typed events published on topic.
func (e *EventRouter) AddStoreEventHandler(name string, topic string, handler StoreEventHandler) {
	e.AddHandler(name, topic, createStoreDispatchHandler(handler))
}

// createStoreDispatchHandler parses store events and dispatches them to the
// matching method of handler.
func createStoreDispatchHandler(handler StoreEventHandler) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		logFields := watermill.LogFields{"message_id": msg.UUID}

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			logFields["payload"] = string(msg.Payload)
			log.Error().Interface("logFields", logFields).Err(err).Msg("Failed to parse store event from message payload")
			// Don't kill the handler for one bad message
			return nil
		}

		msgCtx := msg.Context()
		var handlerErr error
		switch ev := e.(type) {
		case *EventSendStarted:
			handlerErr = handler.HandleSendStarted(msgCtx, ev)
		case *EventSendRejected:
			handlerErr = handler.HandleSendRejected(msgCtx, ev)
		case *EventThinking:
			handlerErr = handler.HandleThinking(msgCtx, ev)
		case *EventContentDelta:
			handlerErr = handler.HandleContentDelta(msgCtx, ev)
		case *EventFinalized:
			handlerErr = handler.HandleFinalized(msgCtx, ev)
		case *EventHistoryLoaded:
			handlerErr = handler.HandleHistoryLoaded(msgCtx, ev)
		default:
			log.Warn().Interface("logFields", logFields).Str("event_type", string(e.Type())).Msg("Unhandled store event type")
		}

		if handlerErr != nil {
			log.Error().Interface("logFields", logFields).Err(handlerErr).Msg("Error processing store event")
			return handlerErr
		}

		return nil
	}
}

// DumpRawEvents returns a handler that writes every event as indented JSON.
func (e *EventRouter) DumpRawEvents(w io.Writer) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		defer msg.Ack()

		var s map[string]interface{}
		err := json.Unmarshal(msg.Payload, &s)
		if err != nil {
			return err
		}
		if !e.verbose {
			delete(s, "meta")
		}
		s_, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(s_))
		return err
	}
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) IsRunning() bool {
	return e.router.IsRunning()
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}
