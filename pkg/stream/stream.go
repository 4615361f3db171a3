package stream

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EventStream chains Decoder, Framer and Classify into a pull loop:
// bytes -> text fragments -> frames -> classified events.
//
// Next blocks on the underlying reader only when no already-framed event is
// queued. It returns io.EOF when the body is exhausted or the sentinel frame
// was seen; any other error comes from the transport.
type EventStream struct {
	decoder *Decoder
	framer  *Framer
	queue   []Frame
	flushed bool
	frames  int
	logger  zerolog.Logger

	defaultThinking string
}

type EventStreamOption func(*EventStream)

func WithLogger(logger zerolog.Logger) EventStreamOption {
	return func(s *EventStream) {
		s.logger = logger
	}
}

// WithDefaultThinkingMessage sets the status shown for thinking frames without a message.
func WithDefaultThinkingMessage(msg string) EventStreamOption {
	return func(s *EventStream) {
		if msg != "" {
			s.defaultThinking = msg
		}
	}
}

func WithDecoderOptions(options ...DecoderOption) EventStreamOption {
	return func(s *EventStream) {
		for _, o := range options {
			o(s.decoder)
		}
	}
}

func NewEventStream(r io.Reader, options ...EventStreamOption) *EventStream {
	s := &EventStream{
		decoder: NewDecoder(r),
		framer:  NewFramer(),
		logger:  log.Logger,

		defaultThinking: DefaultThinkingMessage,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// SentinelSeen reports whether the stream ended on the `[DONE]` frame.
func (s *EventStream) SentinelSeen() bool {
	return s.framer.Done()
}

// Frames returns the number of data frames handed out so far.
func (s *EventStream) Frames() int {
	return s.frames
}

func (s *EventStream) Next() (Event, error) {
	for len(s.queue) == 0 {
		if s.framer.Done() || s.flushed {
			return nil, io.EOF
		}

		text, err := s.decoder.Next()
		if err == io.EOF {
			s.queue = append(s.queue, s.framer.Flush()...)
			s.flushed = true
			continue
		}
		if err != nil {
			return nil, err
		}
		s.queue = append(s.queue, s.framer.Push(text)...)
	}

	frame := s.queue[0]
	s.queue = s.queue[1:]
	s.frames++

	ev := ClassifyWithDefault(frame.Payload, s.defaultThinking)
	if u, ok := ev.(Unrecognized); ok {
		switch u.Reason {
		case ReasonServerError:
			s.logger.Warn().Str("detail", u.Detail).Msg("Server reported an error inside the stream")
		default:
			s.logger.Debug().
				Str("reason", string(u.Reason)).
				Str("payload", u.Payload).
				Msg("Skipping unrecognized frame")
		}
	}
	return ev, nil
}
