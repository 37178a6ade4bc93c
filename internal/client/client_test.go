package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/suPer8Hu/career-counselor/internal/anonstore"
	"github.com/suPer8Hu/career-counselor/internal/chat"
	"github.com/suPer8Hu/career-counselor/internal/common"
)

func writeEnvelope(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func fastClient(url string, opts ...Option) *Client {
	opts = append([]Option{WithBackoff(time.Millisecond, 5*time.Millisecond, DefaultMaxAttempts)}, opts...)
	return New(url, opts...)
}

func TestRetriesRetryableKinds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeEnvelope(w, http.StatusServiceUnavailable, map[string]any{
				"code": 50301, "message": "storage unavailable", "kind": "storage_unavailable", "retryable": true,
			})
			return
		}
		writeEnvelope(w, http.StatusOK, map[string]any{
			"code": 0, "message": "ok", "data": map[string]any{"remaining": 2, "is_authenticated": false},
		})
	}))
	defer srv.Close()

	info, err := fastClient(srv.URL).RateLimitStatus(context.Background())
	if err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	if info.Remaining != 2 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeEnvelope(w, http.StatusServiceUnavailable, map[string]any{
			"code": 50302, "message": "try later", "kind": "transient", "retryable": true,
		})
	}))
	defer srv.Close()

	_, err := fastClient(srv.URL).ListSessions(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Kind != common.KindTransient {
		t.Fatalf("expected transient api error, got %v", err)
	}
	if calls.Load() != DefaultMaxAttempts {
		t.Fatalf("expected %d attempts, got %d", DefaultMaxAttempts, calls.Load())
	}
}

func TestDoesNotRetryRateLimit(t *testing.T) {
	var calls atomic.Int32
	resetAt := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeEnvelope(w, http.StatusTooManyRequests, map[string]any{
			"code": 42901, "message": "limit reached", "kind": "rate_limited", "retryable": false,
			"data": map[string]any{"remaining": 0, "reset_at": resetAt},
		})
	}))
	defer srv.Close()

	_, err := fastClient(srv.URL).SendMessage(context.Background(), "", "career question")
	if !IsRateLimited(err) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	var apiErr *APIError
	errors.As(err, &apiErr)
	if !apiErr.ResetAt.Equal(resetAt) {
		t.Fatalf("expected reset time %s, got %s", resetAt, apiErr.ResetAt)
	}
	if calls.Load() != 1 {
		t.Fatalf("rate limited calls must not be retried, got %d attempts", calls.Load())
	}
}

func TestAnonymousTurnIsStoredLocally(t *testing.T) {
	const sid = "anon_session_1740830400000_abc123xyz"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("anonymous client must not send a token")
		}
		var req struct {
			SessionID string `json:"session_id"`
			Content   string `json:"content"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeEnvelope(w, http.StatusOK, map[string]any{
			"code": 0, "message": "ok",
			"data": map[string]any{
				"session_id":      sid,
				"user_message":    map[string]any{"id": "temp_1", "role": "user", "content": req.Content, "is_anonymous": true},
				"ai_message":      map[string]any{"id": "temp_2", "role": "assistant", "content": "Here is a plan.", "is_anonymous": true},
				"rate_limit_info": map[string]any{"allowed": true, "remaining": 2},
			},
		})
	}))
	defer srv.Close()

	store, err := anonstore.New(anonstore.NewMemoryBackend(), "tab1")
	if err != nil {
		t.Fatalf("anon store: %v", err)
	}
	c := fastClient(srv.URL, WithAnonStore(store))
	ctx := context.Background()

	res, err := c.SendMessage(ctx, "", "How do I switch careers into data science?")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.RateLimit == nil || res.RateLimit.Remaining != 2 {
		t.Fatalf("expected rate limit info, got %+v", res.RateLimit)
	}

	msgs, err := store.Messages(ctx, sid)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != chat.RoleUser || msgs[1].Content != "Here is a plan." {
		t.Fatalf("unexpected local messages: %+v", msgs)
	}

	sessions, err := c.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != sid || sessions[0].MessageCount != 2 || !sessions[0].IsAnonymous {
		t.Fatalf("unexpected local sessions: %+v", sessions)
	}
}

func TestLoginKeepsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			writeEnvelope(w, http.StatusOK, map[string]any{"code": 0, "message": "ok", "data": map[string]any{"token": "tok"}})
		case "/sessions":
			if r.Header.Get("Authorization") != "Bearer tok" {
				writeEnvelope(w, http.StatusUnauthorized, map[string]any{"code": 40101, "message": "unauthorized", "kind": "auth"})
				return
			}
			writeEnvelope(w, http.StatusOK, map[string]any{"code": 0, "message": "ok", "data": map[string]any{
				"sessions": []map[string]any{{"session_id": "01HSESSION0000000000000000", "title": "Resume Tips", "message_count": 4}},
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	ctx := context.Background()
	if err := c.Login(ctx, "casey@example.com", "correct-horse"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !c.Authenticated() {
		t.Fatalf("expected token after login")
	}
	sessions, err := c.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 || sessions[0].MessageCount != 4 {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
}
