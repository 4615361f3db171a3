package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultTimeout = 30 * time.Second

// Client talks to the consultation backend. It is shared by Completions and
// Directory.
type Client struct {
	baseURL       *url.URL
	rawBaseURL    string
	httpClient    *http.Client
	identity      IdentityProvider
	timeout       time.Duration
	allowInsecure bool
	userAgent     string
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithTimeout bounds directory calls, and the time until the response
// headers of a streamed completion arrive. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithIdentity(p IdentityProvider) Option {
	return func(c *Client) {
		c.identity = p
	}
}

// WithAllowInsecure permits plain http and local network hosts in the base URL.
func WithAllowInsecure(allow bool) Option {
	return func(c *Client) {
		c.allowInsecure = allow
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

func New(baseURL string, options ...Option) (*Client, error) {
	c := &Client{
		rawBaseURL: baseURL,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		userAgent:  "go-go-golems/zhenchat",
	}
	for _, o := range options {
		o(c)
	}

	u, err := validateBaseURL(baseURL, c.allowInsecure)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid base URL %q", baseURL)
	}
	c.baseURL = u
	return c, nil
}

// validateBaseURL rejects schemes other than http(s), and unless allowInsecure
// is set, plain http and loopback, private or link-local targets.
func validateBaseURL(raw string, allowInsecure bool) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, err
	}

	switch u.Scheme {
	case "https":
	case "http":
		if !allowInsecure {
			return nil, errors.New("http scheme is not allowed")
		}
	default:
		return nil, errors.Errorf("unsupported URL scheme %q", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, errors.New("URL host is required")
	}
	if allowInsecure {
		return u, nil
	}

	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return nil, errors.Errorf("local hostname %q is not allowed", host)
	}
	// IP literals are checked without DNS lookups
	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		if addr.Zone() != "" || addr.IsUnspecified() || addr.IsMulticast() ||
			addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() {
			return nil, errors.Errorf("IP address %q is not allowed", host)
		}
	}
	return u, nil
}

// BaseURL returns the validated base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// endpoint appends path, which must already be escaped, to the base URL.
func (c *Client) endpoint(path string, query url.Values) (string, error) {
	u := *c.baseURL
	escaped := strings.TrimRight(u.EscapedPath(), "/") + path
	unescaped, err := url.PathUnescape(escaped)
	if err != nil {
		return "", errors.Wrapf(err, "invalid path %q", path)
	}
	u.Path = unescaped
	u.RawPath = escaped
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func (c *Client) newRequest(ctx context.Context, method string, path string, query url.Values, credential string) (*http.Request, error) {
	endpoint, err := c.endpoint(path, query)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return req, nil
}

// StatusError is returned for a response with a non-2xx status. The body
// has been read and closed.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	// Detail is the `detail` field of a JSON error body, or the raw body.
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Detail)
}

const maxErrorBody = 4096

func newStatusError(req *http.Request, resp *http.Response) *StatusError {
	defer func() {
		_ = resp.Body.Close()
	}()

	ret := &StatusError{
		Method:     req.Method,
		URL:        req.URL.Path,
		StatusCode: resp.StatusCode,
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return ret
	}

	var detail struct {
		Detail interface{} `json:"detail"`
	}
	if json.Unmarshal(body, &detail) == nil && detail.Detail != nil {
		switch d := detail.Detail.(type) {
		case string:
			ret.Detail = d
		default:
			b, _ := json.Marshal(d)
			ret.Detail = string(b)
		}
		return ret
	}
	ret.Detail = strings.TrimSpace(string(body))
	return ret
}

// do sends req and returns the response of a 2xx status.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	// #nosec G107 -- the base URL is validated in New.
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newStatusError(req, resp)
	}
	return resp, nil
}

func (c *Client) credential(ctx context.Context) (string, error) {
	if c.identity == nil {
		return "", ErrNoCredential
	}
	return c.identity.Credential(ctx)
}

// call performs an authenticated directory request and decodes the JSON
// response into out when out is not nil.
func (c *Client) call(ctx context.Context, method string, path string, query url.Values, out interface{}) error {
	credential, err := c.credential(ctx)
	if err != nil {
		return err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := c.newRequest(ctx, method, path, query, credential)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	log.Trace().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("Directory call")

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decoding response of %s %s", method, path)
	}
	return nil
}
