package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-go-golems/zhenchat/pkg/conversation"
	"github.com/go-go-golems/zhenchat/pkg/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrInvalidID is returned for session and fact IDs that cannot be used as a
// single path segment.
var ErrInvalidID = errors.New("invalid id")

func pathSegment(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.Contains(id, "/") {
		return "", errors.Wrapf(ErrInvalidID, "%q", id)
	}
	return "/" + url.PathEscape(id), nil
}

// ChatSession is a conversation as listed by the backend.
type ChatSession struct {
	ID        string                 `json:"id" yaml:"id"`
	ArchiveID string                 `json:"archive_id" yaml:"archive_id"`
	Title     string                 `json:"title" yaml:"title"`
	CreatedAt conversation.Timestamp `json:"created_at" yaml:"created_at"`
}

func (s ChatSession) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", s.ID)
	e.Str("archive_id", s.ArchiveID)
	e.Str("title", s.Title)
}

// Fact is something the backend remembered about the user of a conversation.
type Fact struct {
	ID        string                 `json:"id" yaml:"id"`
	ArchiveID string                 `json:"archive_id" yaml:"archive_id"`
	Content   string                 `json:"content" yaml:"content"`
	Category  string                 `json:"category,omitempty" yaml:"category,omitempty"`
	CreatedAt conversation.Timestamp `json:"created_at" yaml:"created_at"`
}

// Directory lists, creates and deletes conversations and gives access to
// their persisted messages and facts. Calls authenticate with the client's
// IdentityProvider.
type Directory struct {
	client *Client
}

func NewDirectory(c *Client) *Directory {
	return &Directory{client: c}
}

func (d *Directory) ListSessions(ctx context.Context) ([]ChatSession, error) {
	var ret []ChatSession
	if err := d.client.call(ctx, http.MethodGet, "/chat/sessions", nil, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

// CreateSession starts a conversation about the given archive.
func (d *Directory) CreateSession(ctx context.Context, archiveID string) (*ChatSession, error) {
	query := url.Values{}
	query.Set("archive_id", archiveID)
	var ret ChatSession
	if err := d.client.call(ctx, http.MethodPost, "/chat/sessions", query, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (d *Directory) DeleteSession(ctx context.Context, id string) error {
	seg, err := pathSegment(id)
	if err != nil {
		return err
	}
	return d.client.call(ctx, http.MethodDelete, "/chat/sessions"+seg, nil, nil)
}

// Messages returns the persisted messages of a conversation, oldest first.
func (d *Directory) Messages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	seg, err := pathSegment(conversationID)
	if err != nil {
		return nil, err
	}
	var ret []conversation.Message
	if err := d.client.call(ctx, http.MethodGet, "/chat/sessions"+seg+"/messages", nil, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (d *Directory) Facts(ctx context.Context, conversationID string) ([]Fact, error) {
	seg, err := pathSegment(conversationID)
	if err != nil {
		return nil, err
	}
	var ret []Fact
	if err := d.client.call(ctx, http.MethodGet, "/chat/sessions"+seg+"/facts", nil, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (d *Directory) DeleteFact(ctx context.Context, factID string) error {
	seg, err := pathSegment(factID)
	if err != nil {
		return err
	}
	return d.client.call(ctx, http.MethodDelete, "/chat/facts"+seg, nil, nil)
}

var _ session.HistorySource = (*Directory)(nil)
