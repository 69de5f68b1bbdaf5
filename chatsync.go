// Package chatsync keeps a chat client's conversation list and open message
// log consistent with the server using polling, coalesced fetches, confirmed
// sends and local read-state reconciliation.
//
// Example:
//
//	tokens, _ := chatsync.OpenPebbleTokenStore("/path/to/token")
//	client := chatsync.NewClient("https://api.example.com/api/chat", tokens)
//
//	session := chatsync.NewSession(client, chatsync.WithPollInterval(10*time.Second))
//	defer session.Close()
//
//	session.StartPolling()
//	session.Open(ctx, 42)
//	msg, err := session.Send(ctx, 42, "hello")
package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout = 30 * time.Second

	maxErrorBody = 64 << 10
)

// ============================================================================
// Client
// ============================================================================

// Client is the HTTP Network Gateway. Every request carries the bearer token
// currently held by the TokenStore; a 401 clears it.
type Client struct {
	baseURL       string
	tokens        TokenStore
	httpClient    *http.Client
	limiter       *rate.Limiter
	logger        *slog.Logger
	onAuthExpired func()
}

type ClientOption func(*Client)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithRateLimit caps outgoing requests to rps per second with the given burst.
// rps <= 0 disables the limit.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a gateway for the chat API rooted at baseURL.
func NewClient(baseURL string, tokens TokenStore, opts ...ClientOption) *Client {
	if tokens == nil {
		tokens = NewMemoryTokenStore("")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnAuthExpired registers fn to run after a 401 has cleared the token.
// A later call replaces the earlier hook.
func (c *Client) OnAuthExpired(fn func()) {
	c.onAuthExpired = fn
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body any, header map[string]string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Op: method + " " + path, Err: err}
		}
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := decodeAPIError(resp.StatusCode, data)
		if resp.StatusCode == http.StatusUnauthorized {
			c.expireAuth(ctx)
		}
		return nil, apiErr
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: method + " " + path, Err: err}
	}
	return data, nil
}

func (c *Client) expireAuth(ctx context.Context) {
	if err := c.tokens.ClearToken(ctx); err != nil {
		c.logger.Warn("token_clear_failed", "error", err)
	}
	c.logger.Warn("auth_expired")
	if c.onAuthExpired != nil {
		c.onAuthExpired()
	}
}

// decodeAPIError pulls a readable message out of an error payload.
func decodeAPIError(status int, data []byte) *APIError {
	e := &APIError{Status: status}
	if gjson.ValidBytes(data) {
		root := gjson.ParseBytes(data)
		e.Code = root.Get("code").String()
		e.Message = firstString(root, "detail", "message", "error")
		if e.Message == "" {
			if nf := root.Get("non_field_errors.0"); nf.Type == gjson.String {
				e.Message = nf.Str
			}
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// ============================================================================
// Gateway methods
// ============================================================================

func conversationPath(id int64) string {
	return "/conversations/" + strconv.FormatInt(id, 10)
}

func (c *Client) ListConversations(ctx context.Context) ([]ConversationSummary, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeConversationList(data)
}

func (c *Client) GetConversation(ctx context.Context, conversationID int64) (*ConversationDetail, error) {
	data, err := c.doRequest(ctx, http.MethodGet, conversationPath(conversationID), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeConversationDetail(data)
}

func (c *Client) ListMessages(ctx context.Context, conversationID int64) ([]Message, error) {
	data, err := c.doRequest(ctx, http.MethodGet, conversationPath(conversationID)+"/messages", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeMessageList(data, conversationID)
}

func (c *Client) SendMessage(ctx context.Context, conversationID int64, text, idempotencyKey string) (*Message, error) {
	var header map[string]string
	if idempotencyKey != "" {
		header = map[string]string{"Idempotency-Key": idempotencyKey}
	}
	payload := map[string]string{"text": text, "content_type": "text"}
	data, err := c.doRequest(ctx, http.MethodPost, conversationPath(conversationID)+"/send", payload, header)
	if err != nil {
		return nil, err
	}
	return decodeSentMessage(data, conversationID)
}

func (c *Client) StartConversation(ctx context.Context, coachingID int64) (*ConversationSummary, error) {
	data, err := c.doRequest(ctx, http.MethodPost, "/conversations/start", map[string]int64{"coaching_id": coachingID}, nil)
	if err != nil {
		return nil, err
	}
	return decodeConversation(data)
}

func (c *Client) MarkRead(ctx context.Context, conversationID int64) error {
	_, err := c.doRequest(ctx, http.MethodPost, conversationPath(conversationID)+"/read", nil, nil)
	return err
}
