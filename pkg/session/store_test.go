package session

import (
	"context"
	"encoding/json"
	"io"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-go-golems/zhenchat/pkg/conversation"
	"github.com/go-go-golems/zhenchat/pkg/events"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	calls atomic.Int32
	open  func(ctx context.Context, credential, conversationID, text string) (io.ReadCloser, error)
}

func (f *fakeTransport) Open(ctx context.Context, credential, conversationID, text string) (io.ReadCloser, error) {
	f.calls.Add(1)
	return f.open(ctx, credential, conversationID, text)
}

func bodyTransport(body string) *fakeTransport {
	return &fakeTransport{open: func(ctx context.Context, credential, conversationID, text string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}}
}

// pipeTransport hands out a body the test writes to. The body fails once the
// request context is cancelled, like an HTTP response body does.
type pipeTransport struct {
	fakeTransport
	writers chan *io.PipeWriter
}

func newPipeTransport() *pipeTransport {
	p := &pipeTransport{writers: make(chan *io.PipeWriter, 4)}
	p.open = func(ctx context.Context, credential, conversationID, text string) (io.ReadCloser, error) {
		pr, pw := io.Pipe()
		go func() {
			<-ctx.Done()
			_ = pw.CloseWithError(ctx.Err())
		}()
		p.writers <- pw
		return pr, nil
	}
	return p
}

func (p *pipeTransport) next(t *testing.T) *io.PipeWriter {
	select {
	case w := <-p.writers:
		return w
	case <-time.After(2 * time.Second):
		t.Fatal("transport was not opened")
		return nil
	}
}

type chunkedBody struct {
	chunks []string
	err    error
}

func (c *chunkedBody) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks[0] = c.chunks[0][n:]
	if c.chunks[0] == "" {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func (c *chunkedBody) Close() error { return nil }

type fakeHistory struct {
	calls    atomic.Int32
	messages func(ctx context.Context, conversationID string) ([]conversation.Message, error)
}

func (f *fakeHistory) Messages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	f.calls.Add(1)
	return f.messages(ctx, conversationID)
}

func staticHistory(msgs ...conversation.Message) *fakeHistory {
	return &fakeHistory{messages: func(ctx context.Context, conversationID string) ([]conversation.Message, error) {
		return msgs, nil
	}}
}

func eventTypes(sink *events.CollectingSink) []events.EventType {
	var ret []events.EventType
	for _, e := range sink.Events() {
		ret = append(ret, e.Type())
	}
	return ret
}

func mustJSON(t *testing.T, v interface{}) []byte {
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func lastMessage(t *testing.T, s *Store, id string) conversation.Message {
	snap, ok := s.Snapshot(id)
	require.True(t, ok)
	msg, ok := snap.Last()
	require.True(t, ok)
	return msg
}

func TestStore_ThinkingThenContent(t *testing.T) {
	sink := events.NewCollectingSink()
	transport := bodyTransport(
		"data: {\"status\":\"thinking\",\"message\":\"查阅古籍...\"}\n\n" +
			"data: {\"content\":\"天\"}\n\n" +
			"data: {\"content\":\"干\"}\n\n" +
			"data: [DONE]\n\n")
	s := NewStore(transport, WithEventSink(sink))

	exec, err := s.Start(context.Background(), "c1", "我的八字如何", "tok")
	require.NoError(t, err)
	outcome, err := exec.Wait()
	require.NoError(t, err)
	assert.Equal(t, conversation.OutcomeSuccess, outcome)

	snap, ok := s.Snapshot("c1")
	require.True(t, ok)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, conversation.RoleUser, snap.Messages[0].Role)
	assert.Equal(t, "我的八字如何", snap.Messages[0].Content)
	assert.Equal(t, "天干", snap.Messages[1].Content)
	assert.False(t, snap.IsStreaming)
	assert.Nil(t, snap.ThinkingMessage)

	assert.Equal(t, []events.EventType{
		events.EventTypeSendStarted,
		events.EventTypeThinking,
		events.EventTypeContentDelta,
		events.EventTypeContentDelta,
		events.EventTypeFinalized,
	}, eventTypes(sink))

	evs := sink.Events()
	thinking, ok := evs[1].(*events.EventThinking)
	require.True(t, ok)
	assert.Equal(t, "查阅古籍...", thinking.Message)
	delta, ok := evs[3].(*events.EventContentDelta)
	require.True(t, ok)
	assert.Equal(t, "干", delta.Delta)
	assert.Equal(t, len("天"), delta.Offset)
	assert.NotContains(t, string(mustJSON(t, delta)), "天")
	final, ok := evs[4].(*events.EventFinalized)
	require.True(t, ok)
	assert.Equal(t, "success", final.Outcome)
	assert.Equal(t, "天干", final.Content)
	assert.Equal(t, exec.AssistantMessageID, final.Metadata().MessageID)
}

func TestStore_ThinkingVisibleWhileStreaming(t *testing.T) {
	transport := newPipeTransport()
	s := NewStore(transport, WithThinkingMessage("thinking..."))

	exec, err := s.Start(context.Background(), "c1", "q", "tok")
	require.NoError(t, err)
	w := transport.next(t)

	_, err = io.WriteString(w, "data: {\"status\":\"thinking\"}\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap, _ := s.Snapshot("c1")
		return snap.ThinkingMessage != nil
	}, time.Second, 5*time.Millisecond)
	snap, _ := s.Snapshot("c1")
	assert.Equal(t, "thinking...", *snap.ThinkingMessage)
	assert.True(t, snap.IsStreaming)

	_, err = io.WriteString(w, "data: {\"content\":\"a\"}\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap, _ := s.Snapshot("c1")
		return snap.ThinkingMessage == nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, w.Close())
	_, _ = exec.Wait()
	assert.Equal(t, "a", lastMessage(t, s, "c1").Content)
}

func TestStore_TransportErrorUsesFallback(t *testing.T) {
	sink := events.NewCollectingSink()
	transport := &fakeTransport{open: func(ctx context.Context, credential, conversationID, text string) (io.ReadCloser, error) {
		return nil, errors.New("connection refused")
	}}
	s := NewStore(transport, WithEventSink(sink))

	s.Send(context.Background(), "c1", "hi", "tok")

	snap, _ := s.Snapshot("c1")
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "hi", snap.Messages[0].Content)
	assert.Equal(t, DefaultFallbackMessage, snap.Messages[1].Content)
	assert.False(t, snap.IsStreaming)

	evs := sink.Events()
	require.NotEmpty(t, evs)
	final, ok := evs[len(evs)-1].(*events.EventFinalized)
	require.True(t, ok)
	assert.Equal(t, "failure", final.Outcome)
	assert.Contains(t, final.ErrorString, "connection refused")
}

func TestStore_ReaderErrorReplacesPartialContent(t *testing.T) {
	readErr := errors.New("connection reset")
	transport := &fakeTransport{open: func(ctx context.Context, credential, conversationID, text string) (io.ReadCloser, error) {
		return &chunkedBody{chunks: []string{"data: {\"content\":\"半\"}\n"}, err: readErr}, nil
	}}
	s := NewStore(transport, WithFallbackMessage("unavailable"))

	exec, err := s.Start(context.Background(), "c1", "hi", "tok")
	require.NoError(t, err)
	outcome, err := exec.Wait()
	assert.Equal(t, conversation.OutcomeFailure, outcome)
	assert.Equal(t, readErr, errors.Cause(err))
	assert.Equal(t, "unavailable", lastMessage(t, s, "c1").Content)
}

func TestStore_SplitFrameAcrossChunks(t *testing.T) {
	transport := &fakeTransport{open: func(ctx context.Context, credential, conversationID, text string) (io.ReadCloser, error) {
		return &chunkedBody{chunks: []string{"data: {\"con", "tent\":\"好\"}\n", "data: [DONE]\n"}}, nil
	}}
	s := NewStore(transport)

	s.Send(context.Background(), "c1", "hi", "tok")
	assert.Equal(t, "好", lastMessage(t, s, "c1").Content)
}

func TestStore_ContentIsExactConcatenation(t *testing.T) {
	parts := []string{"甲", "子", " ", "乙丑", "\\n", "🙂"}
	var body strings.Builder
	for _, p := range parts {
		body.WriteString("data: {\"content\":\"" + p + "\"}\n")
		// noise between frames must not matter
		body.WriteString(": keep-alive\ndata: {\"status\":\"done\"}\ndata: not json\n")
	}
	s := NewStore(bodyTransport(body.String()))

	s.Send(context.Background(), "c1", "hi", "tok")
	assert.Equal(t, "甲子 乙丑\n🙂", lastMessage(t, s, "c1").Content)
}

func TestStore_ServerErrorFrameDoesNotAbort(t *testing.T) {
	s := NewStore(bodyTransport("data: {\"error\":\"处理错误\"}\ndata: {\"content\":\"ok\"}\ndata: [DONE]\n"))

	s.Send(context.Background(), "c1", "hi", "tok")
	assert.Equal(t, "ok", lastMessage(t, s, "c1").Content)
}

func TestStore_EmptyBodyFinalizesWithEmptyAnswer(t *testing.T) {
	s := NewStore(bodyTransport(""))

	s.Send(context.Background(), "c1", "hi", "tok")
	snap, _ := s.Snapshot("c1")
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "", snap.Messages[1].Content)
	assert.False(t, snap.IsStreaming)
}

func TestStore_NoReentrancy(t *testing.T) {
	transport := newPipeTransport()
	sink := events.NewCollectingSink()
	s := NewStore(transport, WithEventSink(sink))

	exec, err := s.Start(context.Background(), "c1", "A", "tok")
	require.NoError(t, err)
	w := transport.next(t)

	_, err = s.Start(context.Background(), "c1", "B", "tok")
	assert.ErrorIs(t, err, ErrAlreadyStreaming)
	s.Send(context.Background(), "c1", "C", "tok")

	snap, _ := s.Snapshot("c1")
	assert.Len(t, snap.Messages, 2)
	assert.Equal(t, int32(1), transport.calls.Load())

	require.NoError(t, w.Close())
	_, _ = exec.Wait()

	var reasons []string
	for _, e := range sink.Events() {
		if r, ok := e.(*events.EventSendRejected); ok {
			reasons = append(reasons, r.Reason)
		}
	}
	assert.Equal(t, []string{"already_streaming", "already_streaming"}, reasons)
}

func TestStore_GuardsRejectBeforeAnyMutation(t *testing.T) {
	transport := bodyTransport("data: [DONE]\n")
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	s := NewStore(transport, WithMetrics(metrics))

	tests := []struct {
		name       string
		id         string
		text       string
		credential string
		want       error
		reason     string
	}{
		{"empty text", "c1", "", "tok", ErrEmptyText, "empty_text"},
		{"whitespace text", "c1", " \n\t", "tok", ErrEmptyText, "empty_text"},
		{"missing credential", "c1", "hi", "", ErrMissingCredential, "missing_credential"},
		{"missing id", "", "hi", "tok", ErrUnknownConversation, "unknown_conversation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Start(context.Background(), tt.id, tt.text, tt.credential)
			assert.ErrorIs(t, err, tt.want)
			assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.sendsRejected.WithLabelValues(tt.reason)), 1.0)
		})
	}

	assert.Equal(t, int32(0), transport.calls.Load())
	assert.Empty(t, s.IDs())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.sendsStarted))
}

func TestStore_FinalizeEvenWhenTransportPanics(t *testing.T) {
	transport := &fakeTransport{open: func(ctx context.Context, credential, conversationID, text string) (io.ReadCloser, error) {
		panic("boom")
	}}
	s := NewStore(transport)

	exec, err := s.Start(context.Background(), "c1", "hi", "tok")
	require.NoError(t, err)
	outcome, err := exec.Wait()
	assert.Equal(t, conversation.OutcomeFailure, outcome)
	assert.Error(t, err)

	snap, _ := s.Snapshot("c1")
	assert.False(t, snap.IsStreaming)
	assert.Nil(t, snap.ThinkingMessage)
	assert.Equal(t, DefaultFallbackMessage, snap.Messages[1].Content)

	// the conversation accepts new sends afterwards
	_, err = s.Start(context.Background(), "c1", "again", "tok")
	assert.NoError(t, err)
}

type panickingSink struct{}

func (panickingSink) PublishEvent(events.Event) error {
	panic("sink exploded")
}

func TestStore_PanickingSinkDoesNotBreakStream(t *testing.T) {
	s := NewStore(bodyTransport("data: {\"content\":\"ok\"}\ndata: [DONE]\n"), WithEventSink(panickingSink{}))

	s.Send(context.Background(), "c1", "hi", "tok")
	snap, _ := s.Snapshot("c1")
	assert.False(t, snap.IsStreaming)
	assert.Equal(t, "ok", snap.Messages[1].Content)
}

func TestStore_Cancel(t *testing.T) {
	transport := newPipeTransport()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	s := NewStore(transport, WithMetrics(metrics))

	assert.False(t, s.Cancel("c1"))

	exec, err := s.Start(context.Background(), "c1", "hi", "tok")
	require.NoError(t, err)
	w := transport.next(t)
	_, err = io.WriteString(w, "data: {\"content\":\"partial\"}\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return lastMessage(t, s, "c1").Content == "partial"
	}, time.Second, 5*time.Millisecond)

	assert.True(t, s.Cancel("c1"))
	outcome, _ := exec.Wait()
	assert.Equal(t, conversation.OutcomeCancelled, outcome)

	snap, _ := s.Snapshot("c1")
	assert.False(t, snap.IsStreaming)
	assert.Equal(t, "partial", snap.Messages[1].Content)
	assert.False(t, s.Cancel("c1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.outcomes.WithLabelValues("cancelled")))
}

func TestStore_CancelSeesAnswerAsSoonAsItStreams(t *testing.T) {
	for i := 0; i < 50; i++ {
		s := NewStore(newPipeTransport())
		s.Init("c1")

		cancelled := make(chan bool, 1)
		go func() {
			for !s.IsStreaming("c1") {
				runtime.Gosched()
			}
			cancelled <- s.Cancel("c1")
		}()

		exec, err := s.Start(context.Background(), "c1", "hi", "tok")
		require.NoError(t, err)
		assert.True(t, <-cancelled)
		outcome, _ := exec.Wait()
		assert.Equal(t, conversation.OutcomeCancelled, outcome)
	}
}

func TestStore_LoadHistory(t *testing.T) {
	history := staticHistory(
		conversation.Message{ID: "1", Role: conversation.RoleUser, Content: "早"},
		conversation.Message{ID: "2", Role: conversation.RoleAssistant, Content: "早安"},
	)
	sink := events.NewCollectingSink()
	s := NewStore(bodyTransport(""), WithHistorySource(history), WithEventSink(sink))

	require.NoError(t, s.LoadHistory(context.Background(), "c1"))
	snap, ok := s.Snapshot("c1")
	require.True(t, ok)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "早安", snap.Messages[1].Content)
	assert.Equal(t, []events.EventType{events.EventTypeHistory}, eventTypes(sink))
}

func TestStore_LoadHistoryErrorLeavesStateAlone(t *testing.T) {
	history := &fakeHistory{messages: func(ctx context.Context, conversationID string) ([]conversation.Message, error) {
		return nil, errors.New("502")
	}}
	s := NewStore(bodyTransport("data: {\"content\":\"x\"}\n"), WithHistorySource(history))
	s.Send(context.Background(), "c1", "hi", "tok")

	err := s.LoadHistory(context.Background(), "c1")
	assert.Error(t, err)
	snap, _ := s.Snapshot("c1")
	assert.Len(t, snap.Messages, 2)
}

func TestStore_LoadHistoryWithoutSource(t *testing.T) {
	s := NewStore(bodyTransport(""))
	assert.ErrorIs(t, s.LoadHistory(context.Background(), "c1"), ErrNoHistorySource)
	assert.ErrorIs(t, s.LoadHistory(context.Background(), ""), ErrUnknownConversation)
}

func TestStore_LoadHistoryDuringStreamIsNoop(t *testing.T) {
	transport := newPipeTransport()
	history := staticHistory(conversation.Message{ID: "old", Role: conversation.RoleUser, Content: "old"})
	s := NewStore(transport, WithHistorySource(history))

	exec, err := s.Start(context.Background(), "c1", "hi", "tok")
	require.NoError(t, err)
	w := transport.next(t)
	_, err = io.WriteString(w, "data: {\"content\":\"live\"}\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return lastMessage(t, s, "c1").Content == "live"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.LoadHistory(context.Background(), "c1"))
	assert.Equal(t, int32(0), history.calls.Load())
	assert.Equal(t, "live", lastMessage(t, s, "c1").Content)

	_, err = io.WriteString(w, "data: {\"content\":\"!\"}\ndata: [DONE]\n")
	require.NoError(t, err)
	_, _ = exec.Wait()
	assert.Equal(t, "live!", lastMessage(t, s, "c1").Content)
}

func TestStore_HistoryFetchRacingWithSendIsDropped(t *testing.T) {
	fetching := make(chan struct{})
	release := make(chan struct{})
	history := &fakeHistory{messages: func(ctx context.Context, conversationID string) ([]conversation.Message, error) {
		close(fetching)
		<-release
		return []conversation.Message{{ID: "old", Role: conversation.RoleUser, Content: "stale"}}, nil
	}}
	s := NewStore(bodyTransport("data: {\"content\":\"answer\"}\ndata: [DONE]\n"), WithHistorySource(history))

	loadErr := make(chan error, 1)
	go func() {
		loadErr <- s.LoadHistory(context.Background(), "c1")
	}()
	<-fetching

	s.Send(context.Background(), "c1", "q", "tok")
	close(release)
	require.NoError(t, <-loadErr)

	snap, _ := s.Snapshot("c1")
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "q", snap.Messages[0].Content)
	assert.Equal(t, "answer", snap.Messages[1].Content)
}

func TestStore_ReconcileAfterSendKeepsAnswer(t *testing.T) {
	var mu sync.Mutex
	server := []conversation.Message{
		{ID: "1", Role: conversation.RoleUser, Content: "earlier"},
	}
	history := &fakeHistory{messages: func(ctx context.Context, conversationID string) ([]conversation.Message, error) {
		mu.Lock()
		defer mu.Unlock()
		return append([]conversation.Message(nil), server...), nil
	}}
	s := NewStore(
		bodyTransport("data: {\"content\":\"new answer\"}\ndata: [DONE]\n"),
		WithHistorySource(history),
		WithReconcileAfterSend(true),
	)
	require.NoError(t, s.LoadHistory(context.Background(), "c1"))

	// the server has stored the question but not the answer yet
	mu.Lock()
	server = append(server, conversation.Message{ID: "2", Role: conversation.RoleUser, Content: "q"})
	mu.Unlock()

	s.Send(context.Background(), "c1", "q", "tok")
	assert.Equal(t, int32(2), history.calls.Load())

	snap, _ := s.Snapshot("c1")
	require.Len(t, snap.Messages, 3)
	assert.Equal(t, "2", snap.Messages[1].ID)
	assert.Equal(t, "new answer", snap.Messages[2].Content)
}

func TestStore_ReloadAfterUnsavedAnswerKeepsOrder(t *testing.T) {
	bodies := []string{
		"data: {\"error\":\"处理错误: boom\"}\n\ndata: [DONE]\n\n",
		"data: {\"content\":\"second answer\"}\n\ndata: [DONE]\n\n",
	}
	transport := &fakeTransport{}
	transport.open = func(ctx context.Context, credential, conversationID, text string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(bodies[transport.calls.Load()-1])), nil
	}
	// the backend kept both questions but only the second answer
	history := staticHistory(
		conversation.Message{ID: "1", Role: conversation.RoleUser, Content: "q1"},
		conversation.Message{ID: "2", Role: conversation.RoleUser, Content: "q2"},
		conversation.Message{ID: "3", Role: conversation.RoleAssistant, Content: "second answer"},
	)
	s := NewStore(transport, WithHistorySource(history))

	s.Send(context.Background(), "c1", "q1", "tok")
	s.Send(context.Background(), "c1", "q2", "tok")
	require.NoError(t, s.LoadHistory(context.Background(), "c1"))
	require.NoError(t, s.LoadHistory(context.Background(), "c1"))

	snap, _ := s.Snapshot("c1")
	var got []string
	for _, m := range snap.Messages {
		got = append(got, string(m.Role)+":"+m.Content)
	}
	assert.Equal(t, []string{"user:q1", "user:q2", "assistant:second answer"}, got)
}

func TestStore_ConversationsAreIsolated(t *testing.T) {
	transport := newPipeTransport()
	s := NewStore(transport)

	s.Init("b")
	before, ok := s.Snapshot("b")
	require.True(t, ok)

	execA, err := s.Start(context.Background(), "a", "for a", "tok")
	require.NoError(t, err)
	wA := transport.next(t)

	after, _ := s.Snapshot("b")
	assert.Equal(t, before, after)
	assert.False(t, s.IsStreaming("b"))
	assert.True(t, s.IsStreaming("a"))

	// b streams concurrently with a
	execB, err := s.Start(context.Background(), "b", "for b", "tok")
	require.NoError(t, err)
	wB := transport.next(t)

	_, err = io.WriteString(wB, "data: {\"content\":\"B\"}\n")
	require.NoError(t, err)
	require.NoError(t, wB.Close())
	_, _ = execB.Wait()

	_, err = io.WriteString(wA, "data: {\"content\":\"A\"}\n")
	require.NoError(t, err)
	require.NoError(t, wA.Close())
	_, _ = execA.Wait()

	assert.Equal(t, "A", lastMessage(t, s, "a").Content)
	assert.Equal(t, "B", lastMessage(t, s, "b").Content)
	assert.Equal(t, []string{"a", "b"}, s.IDs())
}

func TestStore_ContextSinksReceiveEvents(t *testing.T) {
	own := events.NewCollectingSink()
	extra := events.NewCollectingSink()
	s := NewStore(bodyTransport("data: {\"content\":\"x\"}\n"), WithEventSink(own))

	ctx := events.WithEventSinks(context.Background(), extra)
	s.Send(ctx, "c1", "hi", "tok")

	assert.Equal(t, eventTypes(own), eventTypes(extra))
	assert.Len(t, extra.Events(), 3)
}

func TestStore_MetricsCountFramesAndOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	s := NewStore(bodyTransport(
		"data: {\"status\":\"thinking\"}\ndata: {\"content\":\"a\"}\ndata: {\"content\":\"b\"}\ndata: junk\ndata: [DONE]\n",
	), WithMetrics(metrics))

	s.Send(context.Background(), "c1", "hi", "tok")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.sendsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.outcomes.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.frames.WithLabelValues("thinking")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.frames.WithLabelValues("content-delta")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.frames.WithLabelValues("unrecognized")))
}

func TestExecution_NilIsSafe(t *testing.T) {
	var e *Execution
	e.Cancel()
	assert.False(t, e.IsRunning())
	_, err := e.Wait()
	assert.ErrorIs(t, err, ErrExecutionNil)
}
