package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/career-counselor/internal/ai"
	"github.com/suPer8Hu/career-counselor/internal/chat"
	"github.com/suPer8Hu/career-counselor/internal/classifier"
	"github.com/suPer8Hu/career-counselor/internal/config"
	"github.com/suPer8Hu/career-counselor/internal/db"
	"github.com/suPer8Hu/career-counselor/internal/httpapi"
	"github.com/suPer8Hu/career-counselor/internal/ratelimit"
	"gorm.io/gorm"
)

type staticProvider struct{}

func (staticProvider) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	return "Talk to two people who already do that job.", nil
}

func newAPIServer(t *testing.T) (http.Handler, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := db.Connect(context.Background(), "sqlite", "file:client_"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	sqlDB, _ := gdb.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	reg := ai.NewRegistry()
	reg.Register("fake", func(ctx context.Context, model string) (ai.Provider, error) {
		return staticProvider{}, nil
	})
	responder := ai.NewResponder(classifier.New(), reg, "fake", "", time.Second)
	limiter := ratelimit.NewGormStore(gdb, ratelimit.DefaultLimit, ratelimit.DefaultWindow)
	svc := chat.NewService(chat.NewRepo(gdb), responder, limiter, 10)

	cfg := config.Config{Env: "development", JWTSecret: "test-secret", JWTTTLHours: 1}
	return httpapi.NewRouter(gdb, cfg, nil, svc), gdb
}

func TestSendMessageReusesIdempotencyKey(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		n := len(keys)
		mu.Unlock()
		if n < 3 {
			writeEnvelope(w, http.StatusServiceUnavailable, map[string]any{
				"code": 50301, "message": "storage unavailable", "kind": "storage_unavailable", "retryable": true,
			})
			return
		}
		writeEnvelope(w, http.StatusOK, map[string]any{"code": 0, "message": "ok", "data": map[string]any{"session_id": "01HSESSION0000000000000000"}})
	}))
	defer srv.Close()

	seen := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), keys...)
	}

	c := fastClient(srv.URL, WithToken("tok"))
	ctx := context.Background()
	if _, err := c.SendMessage(ctx, "", "first"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if keys := seen(); len(keys) != 3 || keys[0] == "" || keys[1] != keys[0] || keys[2] != keys[0] {
		t.Fatalf("expected one key on every attempt, got %q", keys)
	}

	if _, err := c.SendMessage(ctx, "", "second"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if keys := seen(); len(keys) != 4 || keys[3] == keys[0] {
		t.Fatalf("each call should get its own key, got %q twice", keys[0])
	}
}

func TestSendMessageRetryAfterLostResponseStoresOnce(t *testing.T) {
	api, gdb := newAPIServer(t)

	// the first chat turn is fully handled, then the connection is dropped
	// before the client sees the response
	var chatCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/chat/messages" && chatCalls.Add(1) == 1 {
			api.ServeHTTP(httptest.NewRecorder(), r)
			panic(http.ErrAbortHandler)
		}
		api.ServeHTTP(w, r)
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	ctx := context.Background()
	if err := c.Register(ctx, "riley@example.com", "correct-horse"); err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := c.SendMessage(ctx, "", "Should I move from marketing into product management?")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if chatCalls.Load() < 2 {
		t.Fatalf("expected the turn to be retried, got %d calls", chatCalls.Load())
	}

	var msgs, sessions int64
	gdb.Model(&chat.Message{}).Count(&msgs)
	gdb.Model(&chat.Session{}).Count(&sessions)
	if msgs != 2 || sessions != 1 {
		t.Fatalf("retry must not store the turn twice, messages=%d sessions=%d", msgs, sessions)
	}

	history, _, err := c.Messages(ctx, res.SessionID, 0, "")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(history) != 2 || history[0].MessageID != res.UserMessage.MessageID {
		t.Fatalf("retry should return the stored turn, got %+v", history)
	}
}
