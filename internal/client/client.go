// Package client is a typed HTTP client for the chat API. Anonymous turns are
// mirrored into a local anonstore.Store, the way a browser keeps them.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/suPer8Hu/career-counselor/internal/anonstore"
	"github.com/suPer8Hu/career-counselor/internal/chat"
	"github.com/suPer8Hu/career-counselor/internal/common"
	"github.com/suPer8Hu/career-counselor/internal/ratelimit"
)

const (
	DefaultInitialInterval = time.Second
	DefaultMaxInterval     = 30 * time.Second
	DefaultMaxAttempts     = 3
)

// APIError is a failed call as reported by the server envelope.
type APIError struct {
	Status    int
	Code      int
	Kind      common.Kind
	Message   string
	Retryable bool
	ResetAt   time.Time
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status=%d code=%d kind=%s)", e.Message, e.Status, e.Code, e.Kind)
}

// IsRateLimited reports whether err is the anonymous quota being exhausted,
// which callers should answer with a sign-in prompt rather than a retry.
func IsRateLimited(err error) bool {
	var e *APIError
	return errors.As(err, &e) && e.Kind == common.KindRateLimited
}

type Client struct {
	baseURL string
	http    *http.Client
	token   string
	anon    *anonstore.Store

	initialInterval time.Duration
	maxInterval     time.Duration
	maxAttempts     int
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithAnonStore(s *anonstore.Store) Option {
	return func(c *Client) { c.anon = s }
}

// WithBackoff overrides the retry schedule for retryable errors.
func WithBackoff(initial, max time.Duration, attempts int) Option {
	return func(c *Client) {
		if initial > 0 {
			c.initialInterval = initial
		}
		if max > 0 {
			c.maxInterval = max
		}
		if attempts > 0 {
			c.maxAttempts = attempts
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		http:            &http.Client{Timeout: 60 * time.Second},
		initialInterval: DefaultInitialInterval,
		maxInterval:     DefaultMaxInterval,
		maxAttempts:     DefaultMaxAttempts,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) SetToken(token string) { c.token = token }

func (c *Client) Authenticated() bool { return c.token != "" }

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Kind      common.Kind     `json:"kind"`
	Retryable bool            `json:"retryable"`
	Data      json.RawMessage `json:"data"`
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxInterval = c.maxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)
}

// do runs one API call, retrying only errors the server marks retryable and
// transport failures.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.doWithHeaders(ctx, method, path, nil, body, out)
}

// doWithHeaders is do with extra headers sent on every attempt.
func (c *Client) doWithHeaders(ctx context.Context, method, path string, headers http.Header, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}

	op := func() error {
		err := c.once(ctx, method, path, headers, payload, out)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, c.newBackOff(ctx))
}

func (c *Client) once(ctx context.Context, method, path string, headers http.Header, payload []byte, out any) error {
	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &APIError{
			Status:    resp.StatusCode,
			Kind:      common.KindTransient,
			Message:   fmt.Sprintf("unexpected response body: %s", truncate(string(raw), 200)),
			Retryable: resp.StatusCode >= 500,
		}
	}

	if resp.StatusCode >= 400 || env.Code != 0 {
		apiErr := &APIError{
			Status:    resp.StatusCode,
			Code:      env.Code,
			Kind:      env.Kind,
			Message:   env.Message,
			Retryable: env.Retryable,
		}
		if apiErr.Kind == common.KindRateLimited && len(env.Data) > 0 {
			var d struct {
				ResetAt time.Time `json:"reset_at"`
			}
			if json.Unmarshal(env.Data, &d) == nil {
				apiErr.ResetAt = d.ResetAt
			}
		}
		return apiErr
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// SendMessage runs one turn. Every attempt carries the same Idempotency-Key,
// so a retry after a lost response is neither stored nor charged twice.
// For anonymous sessions without a token the returned pair is appended to
// the local store.
func (c *Client) SendMessage(ctx context.Context, sessionID, content string) (*chat.SendResult, error) {
	headers := http.Header{}
	headers.Set("Idempotency-Key", uuid.NewString())

	var res chat.SendResult
	err := c.doWithHeaders(ctx, http.MethodPost, "/chat/messages", headers, map[string]string{
		"session_id": sessionID,
		"content":    content,
	}, &res)
	if err != nil {
		return nil, err
	}

	if c.anon != nil && !c.Authenticated() && chat.IsAnonymousSessionID(res.SessionID) {
		if err := c.anon.Adopt(ctx, res.SessionID, ""); err != nil {
			return &res, fmt.Errorf("store anonymous session failed: %w", err)
		}
		if _, err := c.anon.AddMessage(ctx, res.SessionID, chat.RoleUser, res.UserMessage.Content); err != nil {
			return &res, fmt.Errorf("store user message failed: %w", err)
		}
		if _, err := c.anon.AddMessage(ctx, res.SessionID, chat.RoleAssistant, res.AIMessage.Content); err != nil {
			return &res, fmt.Errorf("store assistant message failed: %w", err)
		}
	}
	return &res, nil
}

type messagesPage struct {
	Messages     []chat.Message `json:"messages"`
	NextBeforeID string         `json:"next_before_id"`
}

// Messages returns one page of server history, oldest first, plus the
// cursor for the next older page.
func (c *Client) Messages(ctx context.Context, sessionID string, limit int, beforeID string) ([]chat.Message, string, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if beforeID != "" {
		q.Set("before_id", beforeID)
	}
	path := "/chat/sessions/" + url.PathEscape(sessionID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page messagesPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, "", err
	}
	return page.Messages, page.NextBeforeID, nil
}

// ListSessions returns server sessions for signed-in callers and the local
// anonymous ones otherwise.
func (c *Client) ListSessions(ctx context.Context) ([]chat.Session, error) {
	if !c.Authenticated() && c.anon != nil {
		local, err := c.anon.Sessions(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]chat.Session, 0, len(local))
		for _, s := range local {
			out = append(out, chat.Session{
				SessionID:    s.ID,
				Title:        s.Title,
				CreatedAt:    s.CreatedAt,
				UpdatedAt:    s.CreatedAt,
				MessageCount: int64(s.MessageCount),
				IsAnonymous:  true,
			})
		}
		return out, nil
	}

	var res struct {
		Sessions []chat.Session `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/sessions", nil, &res); err != nil {
		return nil, err
	}
	return res.Sessions, nil
}

func (c *Client) CreateSession(ctx context.Context, title string) (*chat.Session, error) {
	var sess chat.Session
	if err := c.do(ctx, http.MethodPost, "/sessions", map[string]string{"title": title}, &sess); err != nil {
		return nil, err
	}
	if c.anon != nil && chat.IsAnonymousSessionID(sess.SessionID) {
		if err := c.anon.Adopt(ctx, sess.SessionID, sess.Title); err != nil {
			return &sess, err
		}
	}
	return &sess, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	if chat.IsAnonymousSessionID(sessionID) && c.anon != nil {
		if err := c.anon.Delete(ctx, sessionID); err != nil {
			return err
		}
	}
	return c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(sessionID), nil, nil)
}

type RateLimitInfo struct {
	Remaining       int       `json:"remaining"`
	ResetAt         time.Time `json:"reset_at"`
	IsAuthenticated bool      `json:"is_authenticated"`
}

func (info RateLimitInfo) Unlimited() bool { return info.Remaining == ratelimit.Unlimited }

func (c *Client) RateLimitStatus(ctx context.Context) (*RateLimitInfo, error) {
	var info RateLimitInfo
	if err := c.do(ctx, http.MethodGet, "/chat/rate-limit", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) ResetRateLimit(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/chat/rate-limit/reset", nil, nil)
}

func (c *Client) Analytics(ctx context.Context) (*chat.Analytics, error) {
	var a chat.Analytics
	if err := c.do(ctx, http.MethodGet, "/chat/analytics", nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Register creates an account and keeps its token.
func (c *Client) Register(ctx context.Context, email, password string) error {
	var res struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/users", map[string]string{"email": email, "password": password}, &res); err != nil {
		return err
	}
	c.token = res.Token
	return nil
}

// Login keeps the returned token for later calls.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var res struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/login", map[string]string{"email": email, "password": password}, &res); err != nil {
		return err
	}
	c.token = res.Token
	return nil
}
