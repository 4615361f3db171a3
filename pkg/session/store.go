package session

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/go-go-golems/zhenchat/pkg/conversation"
	"github.com/go-go-golems/zhenchat/pkg/events"
	"github.com/go-go-golems/zhenchat/pkg/stream"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultFallbackMessage replaces the answer of a send that failed.
const DefaultFallbackMessage = "⚠️ 咨询服务暂时不可用，请稍后重试。"

var (
	ErrEmptyText           = errors.New("message text is empty")
	ErrMissingCredential   = errors.New("credential is empty")
	ErrUnknownConversation = errors.New("conversation id is empty")
	ErrAlreadyStreaming    = errors.New("conversation already has an answer streaming")
	ErrNoHistorySource     = errors.New("store has no history source")
)

// Transport opens the streamed completion for one user message. The returned
// body yields `data: ` lines until the `[DONE]` sentinel or EOF.
type Transport interface {
	Open(ctx context.Context, credential string, conversationID string, text string) (io.ReadCloser, error)
}

// HistorySource fetches the persisted message list of a conversation.
type HistorySource interface {
	Messages(ctx context.Context, conversationID string) ([]conversation.Message, error)
}

type entry struct {
	state *conversation.State

	mu     sync.Mutex
	active *Execution
}

// Store owns the conversation states of a client, keyed by conversation ID,
// and drives streamed answers into them.
//
// Conversations are independent: each has its own lock and at most one answer
// in flight. Entries are created on first reference and never evicted.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	transport Transport
	history   HistorySource
	sink      events.EventSink
	metrics   *Metrics
	logger    zerolog.Logger

	fallback           string
	thinking           string
	reconcileAfterSend bool
	stateOptions       []conversation.StateOption
}

type Option func(*Store)

func WithHistorySource(h HistorySource) Option {
	return func(s *Store) {
		s.history = h
	}
}

// WithEventSink sets the sink receiving every store event. Sinks attached to
// the context of a call with events.WithEventSinks receive them as well.
func WithEventSink(sink events.EventSink) Option {
	return func(s *Store) {
		if sink != nil {
			s.sink = sink
		}
	}
}

func WithFallbackMessage(msg string) Option {
	return func(s *Store) {
		if msg != "" {
			s.fallback = msg
		}
	}
}

func WithThinkingMessage(msg string) Option {
	return func(s *Store) {
		if msg != "" {
			s.thinking = msg
		}
	}
}

// WithReconcileAfterSend reloads the history after every successful answer.
func WithReconcileAfterSend(reconcile bool) Option {
	return func(s *Store) {
		s.reconcileAfterSend = reconcile
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithStateOptions is applied to every conversation state the store creates.
func WithStateOptions(options ...conversation.StateOption) Option {
	return func(s *Store) {
		s.stateOptions = append(s.stateOptions, options...)
	}
}

func NewStore(transport Transport, options ...Option) *Store {
	s := &Store{
		entries:   map[string]*entry{},
		transport: transport,
		sink:      events.NewNullSink(),
		logger:    log.Logger,
		fallback:  DefaultFallbackMessage,
		thinking:  stream.DefaultThinkingMessage,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

func (s *Store) entry(id string) *entry {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[id]; ok {
		return e
	}
	e = &entry{state: conversation.NewState(s.stateOptions...)}
	s.entries[id] = e
	return e
}

// Init makes sure an empty state exists for id. Existing states are left alone.
func (s *Store) Init(id string) {
	s.entry(id)
}

// IDs lists the known conversations, sorted.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ret = append(ret, id)
	}
	sort.Strings(ret)
	return ret
}

// Snapshot returns a copy of the state of id. ok is false for a conversation
// that was never referenced.
func (s *Store) Snapshot(id string) (conversation.Snapshot, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return conversation.Snapshot{}, false
	}
	return e.state.Snapshot(), true
}

// IsStreaming reports whether id has an answer in flight.
func (s *Store) IsStreaming(id string) bool {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	return ok && e.state.IsStreaming()
}

// LoadHistory replaces the messages of id with the list from the history
// source. It does nothing while an answer is streaming, and drops the fetched
// list if an answer was started while the fetch was running.
func (s *Store) LoadHistory(ctx context.Context, id string) error {
	if id == "" {
		return ErrUnknownConversation
	}
	if s.history == nil {
		return ErrNoHistorySource
	}
	if ctx == nil {
		ctx = context.Background()
	}

	e := s.entry(id)
	logger := s.logger.With().Str("conversation_id", id).Logger()
	if e.state.IsStreaming() {
		logger.Debug().Msg("Skipping history load while an answer is streaming")
		s.metrics.historyLoad("skipped")
		return nil
	}
	since := e.state.Generation()

	msgs, err := s.history.Messages(ctx, id)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load history")
		s.metrics.historyLoad("error")
		return errors.Wrapf(err, "loading history of %s", id)
	}

	if !e.state.ReplaceHistory(since, msgs) {
		logger.Debug().Msg("Dropping fetched history, an answer was started meanwhile")
		s.metrics.historyLoad("skipped")
		return nil
	}
	s.metrics.historyLoad("applied")

	snap := e.state.Snapshot()
	s.publish(ctx, events.NewHistoryLoadedEvent(
		events.NewEventMetadata(id, snap.Generation, ""),
		len(snap.Messages),
	))
	logger.Debug().Int("count", len(msgs)).Msg("History loaded")
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyText):
		return "empty_text"
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, ErrUnknownConversation):
		return "unknown_conversation"
	case errors.Is(err, ErrAlreadyStreaming):
		return "already_streaming"
	default:
		return "other"
	}
}

func (s *Store) reject(ctx context.Context, id string, err error) error {
	reason := rejectReason(err)
	s.metrics.sendRejected(reason)
	s.publish(ctx, events.NewSendRejectedEvent(events.NewEventMetadata(id, 0, ""), reason))
	return err
}

// Start appends the user message and an empty assistant message to id and
// streams the answer into it in a goroutine.
//
// It fails without touching any state when the text is blank, the credential
// or id is empty, or an answer is already streaming for id. Every other
// failure is absorbed: the answer is finalized with the fallback message and
// the conversation always returns to idle.
func (s *Store) Start(ctx context.Context, id string, text string, credential string) (*Execution, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if id == "" {
		return nil, s.reject(ctx, id, ErrUnknownConversation)
	}
	if strings.TrimSpace(text) == "" {
		return nil, s.reject(ctx, id, ErrEmptyText)
	}
	if credential == "" {
		return nil, s.reject(ctx, id, ErrMissingCredential)
	}

	e := s.entry(id)
	// Cancel waits on e.mu, so it sees the execution as soon as the state streams
	e.mu.Lock()
	turn, ok := e.state.Begin(text)
	if !ok {
		e.mu.Unlock()
		return nil, s.reject(ctx, id, ErrAlreadyStreaming)
	}
	runCtx, cancel := context.WithCancel(ctx)
	exec := newExecution(id, uuid.NewString(), turn, cancel)
	e.active = exec
	e.mu.Unlock()

	s.metrics.sendStarted()
	s.publish(ctx, events.NewSendStartedEvent(
		events.NewEventMetadata(id, turn.Generation, turn.AssistantMessageID),
		turn.UserMessageID,
		text,
	))

	go s.run(runCtx, e, exec, text, credential)

	return exec, nil
}

// Send is the blocking form of Start. Nothing is returned: rejected sends
// are logged and failures end up as the fallback answer.
func (s *Store) Send(ctx context.Context, id string, text string, credential string) {
	exec, err := s.Start(ctx, id, text, credential)
	if err != nil {
		s.logger.Debug().Err(err).Str("conversation_id", id).Msg("Send rejected")
		return
	}
	_, _ = exec.Wait()
}

// Cancel stops the answer in flight for id, keeping what was received so
// far. It returns false if nothing was streaming.
func (s *Store) Cancel(id string) bool {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	exec := e.active
	e.mu.Unlock()
	if exec == nil || !exec.IsRunning() {
		return false
	}
	exec.Cancel()
	return true
}

func (s *Store) run(ctx context.Context, e *entry, exec *Execution, text string, credential string) {
	logger := s.logger.With().
		Str("conversation_id", exec.ConversationID).
		Uint64("generation", exec.Generation).
		Str("message_id", exec.AssistantMessageID).
		Logger()

	outcome := conversation.OutcomeFailure
	var runErr error

	defer func() {
		if r := recover(); r != nil {
			outcome = conversation.OutcomeFailure
			runErr = errors.Errorf("panic while streaming: %v", r)
			logger.Error().Interface("panic", r).Msg("Recovered from panic while streaming")
		}

		// the state must leave streaming whatever happened above
		e.state.Finalize(exec.Generation, outcome, s.fallback)
		s.metrics.finalized(outcome)

		content := ""
		if msg, ok := e.state.Snapshot().Find(exec.AssistantMessageID); ok {
			content = msg.Content
		}
		s.publish(ctx, events.NewFinalizedEvent(
			events.NewEventMetadata(exec.ConversationID, exec.Generation, exec.AssistantMessageID),
			string(outcome), content, runErr,
		))

		e.mu.Lock()
		if e.active == exec {
			e.active = nil
		}
		e.mu.Unlock()

		if outcome == conversation.OutcomeSuccess && s.reconcileAfterSend && s.history != nil {
			// the run context belongs to the finished stream
			if err := s.LoadHistory(context.WithoutCancel(ctx), exec.ConversationID); err != nil {
				logger.Warn().Err(err).Msg("Could not reconcile history after send")
			}
		}

		exec.setResult(outcome, runErr)
	}()

	outcome, runErr = s.stream(ctx, e, exec, text, credential, logger)
	switch outcome {
	case conversation.OutcomeFailure:
		logger.Error().Err(runErr).Msg("Streaming the answer failed")
	case conversation.OutcomeCancelled:
		logger.Info().Msg("Streaming the answer was cancelled")
	case conversation.OutcomeSuccess:
		logger.Debug().Msg("Answer complete")
	}
}

func (s *Store) stream(
	ctx context.Context,
	e *entry,
	exec *Execution,
	text string,
	credential string,
	logger zerolog.Logger,
) (conversation.Outcome, error) {
	if s.transport == nil {
		return conversation.OutcomeFailure, errors.New("store has no transport")
	}

	body, err := s.transport.Open(ctx, credential, exec.ConversationID, text)
	if err != nil {
		return failureOrCancelled(ctx, errors.Wrap(err, "opening stream"))
	}
	defer func() {
		_ = body.Close()
	}()

	es := stream.NewEventStream(body,
		stream.WithLogger(logger),
		stream.WithDefaultThinkingMessage(s.thinking),
	)

	offset := 0
	for {
		if ctx.Err() != nil {
			return conversation.OutcomeCancelled, ctx.Err()
		}

		ev, err := es.Next()
		if err == io.EOF {
			logger.Debug().Bool("sentinel", es.SentinelSeen()).Int("frames", es.Frames()).Msg("Stream ended")
			return conversation.OutcomeSuccess, nil
		}
		if err != nil {
			return failureOrCancelled(ctx, err)
		}

		s.metrics.frame(ev.Kind())
		md := events.NewEventMetadata(exec.ConversationID, exec.Generation, exec.AssistantMessageID)

		switch ev := ev.(type) {
		case stream.Thinking:
			if e.state.ApplyThinking(exec.Generation, ev.Message) {
				s.publish(ctx, events.NewThinkingEvent(md, ev.Message))
			}
		case stream.ContentDelta:
			if e.state.ApplyContentDelta(exec.Generation, ev.Text) {
				s.publish(ctx, events.NewContentDeltaEvent(md, ev.Text, offset))
				offset += len(ev.Text)
			}
		case stream.Unrecognized:
		}
	}
}

func failureOrCancelled(ctx context.Context, err error) (conversation.Outcome, error) {
	if ctx.Err() != nil {
		return conversation.OutcomeCancelled, err
	}
	return conversation.OutcomeFailure, err
}

// publish hands ev to the store sink and the context sinks. A failing or
// panicking sink is logged and never aborts the caller.
func (s *Store) publish(ctx context.Context, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("event_type", string(ev.Type())).Msg("Sink panicked")
		}
	}()
	if err := s.sink.PublishEvent(ev); err != nil {
		s.logger.Warn().Err(err).Str("event_type", string(ev.Type())).Msg("Sink failed to publish event")
	}
	events.PublishEventToContext(ctx, ev)
}
