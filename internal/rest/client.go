package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bazario/chatkit/internal/wire"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

var (
	// ErrUnavailable means the request never produced a server verdict
	// (dial failure, timeout). Safe to retry.
	ErrUnavailable = errors.New("rest: service unavailable")

	// ErrRejected means the server saw the request and declined it.
	ErrRejected = errors.New("rest: request rejected")
)

// Options configures the fallback request client.
type Options struct {
	BaseURL        string
	RequestTimeout time.Duration
	RetryAttempts  uint64        // for idempotent GETs only
	RetryDelay     time.Duration // fixed backoff between retries
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = 15 * time.Second
	}
	if out.RetryAttempts == 0 {
		out.RetryAttempts = 2
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = time.Second
	}
	return out
}

// Client is the stateless request/response fallback used whenever the live
// channel is down. It offers the same logical operations with the same
// Message/Conversation shapes.
type Client struct {
	opts       Options
	credential string
	http       *http.Client
	logger     *zap.Logger
}

// NewClient creates a fallback client authenticated with the session
// credential.
func NewClient(opts Options, credential string, logger *zap.Logger) *Client {
	o := opts.withDefaults()
	return &Client{
		opts:       o,
		credential: credential,
		http:       &http.Client{Timeout: o.RequestTimeout},
		logger:     logger,
	}
}

// ListConversations returns one page of the caller's conversations, most
// recent activity first.
func (c *Client) ListConversations(ctx context.Context, limit, offset int) ([]wire.Conversation, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var out []wire.Conversation
	if err := c.get(ctx, "/api/conversations?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMessages returns one page of a conversation's messages older than
// beforeTS (0 = newest page), newest first.
func (c *Client) ListMessages(ctx context.Context, conversationID string, beforeTS int64, limit int) ([]wire.Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if beforeTS > 0 {
		q.Set("before", strconv.FormatInt(beforeTS, 10))
	}

	var out []wire.Message
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages?" + q.Encode()
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PostMessage persists a message through the request path. Never retried
// internally: a duplicate POST would be a duplicate message.
func (c *Client) PostMessage(ctx context.Context, req wire.SendMessageRequest) (*wire.Message, error) {
	var out wire.Message
	path := "/api/conversations/" + url.PathEscape(req.ConversationID) + "/messages"
	if err := c.post(ctx, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkRead asks the server to mark all messages in the conversation read
// for the calling participant. Idempotent on the server.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.post(ctx, path, nil, nil)
}

// CreateOrGetConversation fetches-or-creates the conversation with a peer.
// A repeat call for the same pair returns the existing record.
func (c *Client) CreateOrGetConversation(ctx context.Context, peerID string) (*wire.Conversation, error) {
	var out wire.Conversation
	body := map[string]string{"peer_id": peerID}
	if err := c.post(ctx, "/api/conversations", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// get performs an idempotent read with bounded fixed-backoff retries on
// transport-level failures.
func (c *Client) get(ctx context.Context, path string, out any) error {
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.RetryDelay), c.opts.RetryAttempts),
		ctx,
	)
	return backoff.Retry(func() error {
		err := c.do(ctx, http.MethodGet, path, nil, out)
		if err != nil && !errors.Is(err, ErrUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := wire.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.credential)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s %s: status %d", ErrUnavailable, method, path, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrRejected, method, path, resp.StatusCode, errorMessage(data))
	}

	if out != nil && len(data) > 0 {
		if err := wire.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// errorMessage extracts a server error body of the form {"error": "..."},
// falling back to the raw body.
func errorMessage(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := wire.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	if len(data) > 200 {
		data = data[:200]
	}
	return string(data)
}
