package conversation

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Message is one entry of a conversation, either typed by the user or
// produced by the assistant. The JSON layout matches the history endpoint.
type Message struct {
	ID        string         `json:"id" yaml:"id"`
	Role      Role           `json:"role" yaml:"role"`
	Content   string         `json:"content" yaml:"content"`
	CreatedAt Timestamp      `json:"created_at" yaml:"created_at"`
	MetaData  map[string]any `json:"meta_data,omitempty" yaml:"meta_data,omitempty"`
}

// Timestamp accepts the timestamp layouts the server produces. Timestamps
// stored without a zone are interpreted as UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// null or a non-string value
		if strings.TrimSpace(string(b)) == "null" {
			t.Time = time.Time{}
			return nil
		}
		return errors.Wrap(err, "timestamp must be a string")
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return errors.Errorf("unsupported timestamp %q", s)
}

func (t Timestamp) MarshalYAML() (interface{}, error) {
	if t.IsZero() {
		return nil, nil
	}
	return t.UTC().Format(time.RFC3339Nano), nil
}
