package client

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-go-golems/zhenchat/pkg/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const completionsPath = "/chat/completions/stream"

// Completions opens streamed answers:
// GET {base}/chat/completions/stream?session_id=&content=
type Completions struct {
	client *Client
}

func NewCompletions(c *Client) *Completions {
	return &Completions{client: c}
}

// Open sends the user message and returns the event stream body. A non-2xx
// status is returned as *StatusError before any of the body is handed out.
func (c *Completions) Open(ctx context.Context, credential string, conversationID string, text string) (io.ReadCloser, error) {
	if credential == "" {
		return nil, ErrNoCredential
	}

	query := url.Values{}
	query.Set("session_id", conversationID)
	query.Set("content", text)

	// the timeout covers the wait for the response headers only, the body
	// may stream for as long as the answer takes
	reqCtx, cancel := context.WithCancel(ctx)
	var timer *time.Timer
	if c.client.timeout > 0 {
		timer = time.AfterFunc(c.client.timeout, cancel)
	}

	req, err := c.client.newRequest(reqCtx, http.MethodGet, completionsPath, query, credential)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.client.do(req)
	if timer != nil && !timer.Stop() && err == nil {
		// the timer fired while the headers were arriving
		_ = resp.Body.Close()
		cancel()
		return nil, errors.Errorf("timed out after %s waiting for the stream to start", c.client.timeout)
	}
	if err != nil {
		cancel()
		return nil, err
	}

	log.Debug().
		Str("conversation_id", conversationID).
		Str("content_type", resp.Header.Get("Content-Type")).
		Msg("Completion stream opened")

	return &streamBody{ReadCloser: resp.Body, cancel: cancel}, nil
}

var _ session.Transport = (*Completions)(nil)

type streamBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *streamBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
