package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-clone"
)

// Outcome is how a streamed answer ended.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeCancelled Outcome = "cancelled"
)

// State is the in-memory aggregate of one conversation: its ordered message
// list, whether an answer is streaming, and the current thinking status.
//
// Every mutation is atomic under the state's own lock. Mutations that belong
// to a streamed answer carry the generation returned by Begin; once a newer
// generation started, or the answer was finalized, they are no-ops.
type State struct {
	mu sync.Mutex

	messages  []Message
	streaming bool
	thinking  *string

	generation uint64
	inflightID string
	// messages appended locally that the server has not echoed back yet,
	// mapped to the generation that appended them
	pending map[string]uint64
	// number of server messages installed by the last history load
	serverLen int

	version int64

	newID func() string
	now   func() time.Time
}

type StateOption func(*State)

// WithIDGenerator overrides how local message IDs are generated.
func WithIDGenerator(f func() string) StateOption {
	return func(s *State) {
		s.newID = f
	}
}

func WithClock(f func() time.Time) StateOption {
	return func(s *State) {
		s.now = f
	}
}

func NewState(options ...StateOption) *State {
	s := &State{
		pending: map[string]uint64{},
		newID:   uuid.NewString,
		now:     time.Now,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Turn identifies the answer that Begin opened.
type Turn struct {
	Generation         uint64
	UserMessageID      string
	AssistantMessageID string
}

// Begin appends the user message and an empty assistant placeholder, and
// switches the state to streaming. It refuses (ok == false) while another
// answer is streaming.
func (s *State) Begin(text string) (Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streaming {
		return Turn{}, false
	}

	now := s.now()
	user := Message{ID: s.newID(), Role: RoleUser, Content: text, CreatedAt: NewTimestamp(now)}
	assistant := Message{ID: s.newID(), Role: RoleAssistant, CreatedAt: NewTimestamp(now)}
	// the two IDs must differ even with a coarse generator
	for assistant.ID == user.ID {
		assistant.ID = s.newID()
	}

	s.messages = append(s.messages, user, assistant)
	s.streaming = true
	s.thinking = nil
	s.generation++
	s.pending[user.ID] = s.generation
	s.pending[assistant.ID] = s.generation
	s.inflightID = assistant.ID
	s.version++

	return Turn{
		Generation:         s.generation,
		UserMessageID:      user.ID,
		AssistantMessageID: assistant.ID,
	}, true
}

func (s *State) current(gen uint64) bool {
	return s.streaming && gen == s.generation
}

// ApplyThinking records the thinking status of the in-flight answer.
func (s *State) ApplyThinking(gen uint64, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current(gen) {
		return false
	}
	s.thinking = &message
	s.version++
	return true
}

// ApplyContentDelta clears the thinking status and appends text to the
// in-flight assistant message, which is looked up by ID.
func (s *State) ApplyContentDelta(gen uint64, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current(gen) {
		return false
	}
	s.thinking = nil
	s.version++
	idx := s.indexOf(s.inflightID)
	if idx < 0 {
		return false
	}
	s.messages[idx].Content += text
	return true
}

// Finalize ends the in-flight answer. On OutcomeFailure the accumulated
// content is replaced by fallback.
func (s *State) Finalize(gen uint64, outcome Outcome, fallback string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current(gen) {
		return false
	}

	if idx := s.indexOf(s.inflightID); idx >= 0 {
		switch outcome {
		case OutcomeFailure:
			s.messages[idx].Content = fallback
			// the fallback is a local artifact, a history reload drops it
			delete(s.pending, s.inflightID)
		case OutcomeCancelled:
			if s.messages[idx].Content == "" {
				delete(s.pending, s.inflightID)
			}
		case OutcomeSuccess:
		}
	}

	s.streaming = false
	s.thinking = nil
	s.inflightID = ""
	s.version++
	return true
}

// ReplaceHistory installs the message list fetched from the server.
//
// It is refused while an answer is streaming, and when a new answer was
// started after the fetch began (since is the generation observed before the
// fetch). Messages of the latest answer that the server list does not contain
// yet are kept after the server messages, so a reload can never revert a
// completed answer. Unconfirmed messages of older answers and empty assistant
// placeholders are dropped.
func (s *State) ReplaceHistory(since uint64, msgs []Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streaming || s.generation != since {
		return false
	}

	// only server messages that appeared since the last load can confirm local ones
	fresh := msgs
	if len(msgs) >= s.serverLen {
		fresh = msgs[s.serverLen:]
	}
	used := make([]bool, len(fresh))

	var keep []Message
	for _, m := range s.messages {
		gen, ok := s.pending[m.ID]
		if !ok {
			continue
		}
		if gen != s.generation || (m.Role == RoleAssistant && m.Content == "") {
			delete(s.pending, m.ID)
			continue
		}
		matched := false
		for j := range fresh {
			if !used[j] && fresh[j].Role == m.Role && fresh[j].Content == m.Content {
				used[j] = true
				matched = true
				break
			}
		}
		if !matched {
			keep = append(keep, m)
			continue
		}
		delete(s.pending, m.ID)
		// unconfirmed messages before a confirmed one would end up out of order
		for _, k := range keep {
			delete(s.pending, k.ID)
		}
		keep = nil
	}

	next := make([]Message, 0, len(msgs)+len(keep))
	next = append(next, cloneMessages(msgs)...)
	next = append(next, keep...)
	s.messages = next
	s.serverLen = len(msgs)
	s.version++
	return true
}

func (s *State) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Generation returns the number of answers started on this state.
func (s *State) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *State) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneMessages(msgs []Message) []Message {
	if len(msgs) == 0 {
		return nil
	}
	return clone.Clone(msgs).([]Message)
}

// Snapshot is a read-only copy of a State.
type Snapshot struct {
	Messages        []Message `json:"messages" yaml:"messages"`
	IsStreaming     bool      `json:"is_streaming" yaml:"is_streaming"`
	ThinkingMessage *string   `json:"thinking_message,omitempty" yaml:"thinking_message,omitempty"`
	Generation      uint64    `json:"generation" yaml:"generation"`
	Version         int64     `json:"version" yaml:"version"`
}

// Snapshot deep-copies the current state. Callers may keep and modify the
// result without affecting the conversation.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	ret := Snapshot{
		Messages:    cloneMessages(s.messages),
		IsStreaming: s.streaming,
		Generation:  s.generation,
		Version:     s.version,
	}
	if s.thinking != nil {
		t := *s.thinking
		ret.ThinkingMessage = &t
	}
	return ret
}

// Last returns the most recent message of the snapshot.
func (s Snapshot) Last() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Find returns the message with the given ID.
func (s Snapshot) Find(id string) (Message, bool) {
	for _, m := range s.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}
