package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/career-counselor/internal/ai"
	"github.com/suPer8Hu/career-counselor/internal/auth"
	"github.com/suPer8Hu/career-counselor/internal/classifier"
	"github.com/suPer8Hu/career-counselor/internal/common"
	"github.com/suPer8Hu/career-counselor/internal/models"
	"github.com/suPer8Hu/career-counselor/internal/ratelimit"
	"gorm.io/gorm"
)

// careerQuestion is routed to the generator by the classifier.
const careerQuestion = "Should I move from marketing into product management?"

type recordingProvider struct {
	mu    sync.Mutex
	calls int
	last  []ai.Message
	reply string
	err   error
}

func (p *recordingProvider) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	_ = ctx
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	// copy to avoid mutations
	p.last = append([]ai.Message(nil), messages...)
	if p.err != nil {
		return "", p.err
	}
	if p.reply == "" {
		return "ok", nil
	}
	return p.reply, nil
}

func (p *recordingProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recordingPublisher struct {
	events []TurnEvent
	err    error
}

func (p *recordingPublisher) PublishTurn(ctx context.Context, ev TurnEvent) error {
	p.events = append(p.events, ev)
	return p.err
}

func fixedNow() time.Time {
	return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(gormsqlite.Open("file:chat_"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&Session{}, &Message{}, &ratelimit.Record{}, &ratelimit.RequestKey{}, &models.TurnEvent{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type fixture struct {
	db    *gorm.DB
	repo  *Repo
	prov  *recordingProvider
	limit *ratelimit.GormStore
	svc   *Service
}

func newFixture(t *testing.T, window int) *fixture {
	t.Helper()
	db := openTestDB(t)
	repo := NewRepo(db)

	prov := &recordingProvider{}
	reg := ai.NewRegistry()
	reg.Register("fake", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		_ = model
		return prov, nil
	})
	responder := ai.NewResponder(classifier.New(), reg, "fake", "", time.Second)

	limiter := ratelimit.NewGormStore(db, 3, 24*time.Hour).WithClock(fixedNow)
	svc := NewService(repo, responder, limiter, window).WithClock(fixedNow)
	return &fixture{db: db, repo: repo, prov: prov, limit: limiter, svc: svc}
}

func user(id uint64) auth.Identity {
	return auth.Identity{UserID: id, Authenticated: true}
}

func (f *fixture) createSession(t *testing.T, uid uint64) *Session {
	t.Helper()
	sess, err := f.svc.StoreFor(user(uid)).Create(context.Background(), "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func (f *fixture) countMessages(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := f.db.Model(&Message{}).Count(&n).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	return n
}

func TestSendMessage_WritesUserAndAssistant(t *testing.T) {
	f := newFixture(t, 10)
	sess := f.createSession(t, 1)

	res, err := f.svc.SendMessage(context.Background(), user(1), "", sess.SessionID, careerQuestion)
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if res.AIMessage.Content != "ok" || res.AIMessage.ResponseType != string(classifier.TypeAI) {
		t.Fatalf("unexpected ai message: %+v", res.AIMessage)
	}
	if res.RateLimit != nil {
		t.Fatalf("authenticated turns carry no rate limit info")
	}

	var msgs []Message
	if err := f.db.Where("session_id = ? AND user_id = ?", sess.SessionID, uint64(1)).
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		t.Fatalf("query messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != careerQuestion {
		t.Fatalf("unexpected user msg: role=%q content=%q", msgs[0].Role, msgs[0].Content)
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != "ok" {
		t.Fatalf("unexpected assistant msg: role=%q content=%q", msgs[1].Role, msgs[1].Content)
	}
	if msgs[0].MessageID != res.UserMessage.MessageID || len(msgs[0].MessageID) != 26 {
		t.Fatalf("user message id mismatch: %q vs %q", msgs[0].MessageID, res.UserMessage.MessageID)
	}
}

func TestSendMessage_UsesContextWindow(t *testing.T) {
	window := 3
	f := newFixture(t, window)
	sess := f.createSession(t, 2)

	// seed messages: 5 messages already in history
	for i := 0; i < 5; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		id, _ := common.NewULID()
		if err := f.db.Create(&Message{
			MessageID: id,
			SessionID: sess.SessionID,
			UserID:    2,
			Role:      role,
			Content:   "seed",
		}).Error; err != nil {
			t.Fatalf("seed msg %d: %v", i, err)
		}
	}

	if _, err := f.svc.SendMessage(context.Background(), user(2), "", sess.SessionID, "new question about my career"); err != nil {
		t.Fatalf("send message: %v", err)
	}

	// window of history plus the new user turn
	if len(f.prov.last) != window+1 {
		t.Fatalf("expected provider to receive %d messages, got %d", window+1, len(f.prov.last))
	}
	last := f.prov.last[len(f.prov.last)-1]
	if last.Role != ai.RoleUser || last.Content != "new question about my career" {
		t.Fatalf("expected last provider msg to be new user msg, got role=%q content=%q", last.Role, last.Content)
	}
	// oldest first: seed #2 (user), #3 (assistant), #4 (user)
	if f.prov.last[0].Role != ai.RoleUser || f.prov.last[1].Role != ai.RoleAssistant {
		t.Fatalf("history should be oldest first, got %+v", f.prov.last)
	}
}

func TestSendMessage_SetsTitleOnFirstTurnOnly(t *testing.T) {
	f := newFixture(t, 10)
	sess := f.createSession(t, 3)
	ctx := context.Background()

	res, err := f.svc.SendMessage(ctx, user(3), "", sess.SessionID, "How do I improve my resume for free?")
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if res.Title != "Help Request" {
		t.Fatalf("expected help title, got %q", res.Title)
	}

	res, err = f.svc.SendMessage(ctx, user(3), "", sess.SessionID, careerQuestion)
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if res.Title != "" {
		t.Fatalf("title must only be derived on the first turn, got %q", res.Title)
	}

	got, err := f.repo.GetSessionBySessionID(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Title != "Help Request" {
		t.Fatalf("stored title changed: %q", got.Title)
	}
}

func TestSendMessage_GenerationFailureWritesNothing(t *testing.T) {
	f := newFixture(t, 10)
	sess := f.createSession(t, 4)
	f.prov.err = errors.New("provider down")

	_, err := f.svc.SendMessage(context.Background(), user(4), "", sess.SessionID, careerQuestion)
	if !common.IsKind(err, common.KindGeneration) {
		t.Fatalf("expected generation error, got %v", err)
	}
	if n := f.countMessages(t); n != 0 {
		t.Fatalf("expected no orphan messages, found %d", n)
	}
}

func TestSendMessage_Validation(t *testing.T) {
	f := newFixture(t, 10)
	sess := f.createSession(t, 5)

	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"whitespace", "   \n\t"},
		{"too long", strings.Repeat("a", DefaultMaxMessageLength+1)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.SendMessage(context.Background(), user(5), "", sess.SessionID, tc.content)
			if !common.IsKind(err, common.KindValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	if f.prov.Calls() != 0 {
		t.Fatalf("invalid input must not reach the provider")
	}
}

func TestSendMessage_PersistedSessionAccess(t *testing.T) {
	f := newFixture(t, 10)
	sess := f.createSession(t, 6)
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, auth.Anonymous(), "1.2.3.4", sess.SessionID, careerQuestion)
	if !common.IsKind(err, common.KindAuth) {
		t.Fatalf("expected auth error for guest on persisted session, got %v", err)
	}

	_, err = f.svc.SendMessage(ctx, user(7), "", sess.SessionID, careerQuestion)
	if !common.IsKind(err, common.KindNotFound) {
		t.Fatalf("expected not found for foreign session, got %v", err)
	}

	_, err = f.svc.SendMessage(ctx, user(6), "", "01HZZZZZZZZZZZZZZZZZZZZZZZ", careerQuestion)
	if !common.IsKind(err, common.KindNotFound) {
		t.Fatalf("expected not found for unknown session, got %v", err)
	}
	if f.prov.Calls() != 0 {
		t.Fatalf("rejected turns must not reach the provider")
	}
}

func TestSendMessage_AnonymousRateLimit(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	guest := auth.Anonymous()

	anonID, err := NewAnonymousSessionID(fixedNow())
	if err != nil {
		t.Fatalf("anon id: %v", err)
	}

	for i := 1; i <= 3; i++ {
		res, err := f.svc.SendMessage(ctx, guest, "10.0.0.1", anonID, careerQuestion)
		if err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
		if res.RateLimit == nil || res.RateLimit.Remaining != 3-i {
			t.Fatalf("turn %d: unexpected rate limit info %+v", i, res.RateLimit)
		}
		if !strings.HasPrefix(res.UserMessage.MessageID, "temp_") || !res.UserMessage.IsAnonymous {
			t.Fatalf("anonymous turns should echo temp messages, got %+v", res.UserMessage)
		}
	}

	calls := f.prov.Calls()
	_, err = f.svc.SendMessage(ctx, guest, "10.0.0.1", anonID, careerQuestion)
	if !common.IsKind(err, common.KindRateLimited) {
		t.Fatalf("expected rate limited on 4th turn, got %v", err)
	}
	if f.prov.Calls() != calls {
		t.Fatalf("rate limited turn must not call the generator")
	}

	// another IP is unaffected
	if _, err := f.svc.SendMessage(ctx, guest, "10.0.0.2", anonID, careerQuestion); err != nil {
		t.Fatalf("other ip should be allowed: %v", err)
	}

	// nothing was stored for anonymous sessions
	var sessions, msgs int64
	f.db.Model(&Session{}).Count(&sessions)
	f.db.Model(&Message{}).Count(&msgs)
	if sessions != 0 || msgs != 0 {
		t.Fatalf("anonymous turns must not persist rows, sessions=%d messages=%d", sessions, msgs)
	}
}

func TestSendMessage_ChargeBeforeGenerate(t *testing.T) {
	f := newFixture(t, 10)
	f.prov.err = errors.New("provider down")
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, auth.Anonymous(), "10.0.0.3", "", careerQuestion)
	if !common.IsKind(err, common.KindGeneration) {
		t.Fatalf("expected generation error, got %v", err)
	}

	st, err := f.limit.Status(ctx, "10.0.0.3")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Remaining != 2 {
		t.Fatalf("failed generation should still consume quota, remaining=%d", st.Remaining)
	}
}

func TestSendMessage_AuthenticatedInAnonymousSessionIsNotCharged(t *testing.T) {
	f := newFixture(t, 10)
	anonID, _ := NewAnonymousSessionID(fixedNow())

	res, err := f.svc.SendMessage(context.Background(), user(8), "10.0.0.4", anonID, careerQuestion)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.RateLimit != nil {
		t.Fatalf("authenticated callers are never charged")
	}
	if n := f.countMessages(t); n != 0 {
		t.Fatalf("anonymous sessions are never persisted, found %d", n)
	}
}

func TestSendMessage_LazySessionCreation(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	res, err := f.svc.SendMessage(ctx, user(9), "", "", careerQuestion)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if IsAnonymousSessionID(res.SessionID) {
		t.Fatalf("authenticated caller should get a persisted session, got %q", res.SessionID)
	}
	if n := f.countMessages(t); n != 2 {
		t.Fatalf("expected 2 stored messages, got %d", n)
	}

	res, err = f.svc.SendMessage(ctx, auth.Anonymous(), "10.0.0.5", "", careerQuestion)
	if err != nil {
		t.Fatalf("guest send: %v", err)
	}
	if !IsAnonymousSessionID(res.SessionID) {
		t.Fatalf("guest should get an anonymous session, got %q", res.SessionID)
	}
}

func TestSendMessage_CannedReplySkipsGenerator(t *testing.T) {
	f := newFixture(t, 10)
	sess := f.createSession(t, 10)

	res, err := f.svc.SendMessage(context.Background(), user(10), "", sess.SessionID, "resume tips")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if f.prov.Calls() != 0 {
		t.Fatalf("canned replies must not call the generator")
	}
	if res.AIMessage.ResponseType != string(classifier.TypeCommon) || res.AIMessage.Category != "resume" {
		t.Fatalf("unexpected ai message: %+v", res.AIMessage)
	}
}

func TestSendMessage_PublishesTurnEvents(t *testing.T) {
	f := newFixture(t, 10)
	pub := &recordingPublisher{err: errors.New("broker down")}
	f.svc.WithPublisher(pub)

	res, err := f.svc.SendMessage(context.Background(), auth.Anonymous(), "10.0.0.6", "", "interview tips")
	if err != nil {
		t.Fatalf("a failing publisher must not fail the turn: %v", err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected one event, got %d", len(pub.events))
	}
	ev := pub.events[0]
	if !ev.IsAnonymous || ev.SessionID != res.SessionID || ev.ResponseType != "common" || ev.Category != "interview" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestSessionStore_Persisted(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	store := f.svc.StoreFor(user(11))

	first, err := store.Create(ctx, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Title != DefaultSessionTitle {
		t.Fatalf("expected default title, got %q", first.Title)
	}
	second, err := store.Create(ctx, "Interview prep")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.SendMessage(ctx, user(11), "", first.SessionID, careerQuestion); err != nil {
		t.Fatalf("send: %v", err)
	}
	other := f.createSession(t, 12)

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions for owner, got %d", len(list))
	}
	if list[0].SessionID != second.SessionID {
		t.Fatalf("expected newest session first")
	}
	if list[1].MessageCount != 2 {
		t.Fatalf("expected derived message count 2, got %d", list[1].MessageCount)
	}

	// foreign and unknown deletes are idempotent no-ops
	if err := store.Delete(ctx, other.SessionID); err != nil {
		t.Fatalf("delete foreign: %v", err)
	}
	if _, err := f.repo.GetSessionBySessionID(ctx, other.SessionID); err != nil {
		t.Fatalf("foreign session must survive: %v", err)
	}
	if err := store.Delete(ctx, "does-not-exist"); err != nil {
		t.Fatalf("delete unknown: %v", err)
	}

	if err := store.Delete(ctx, first.SessionID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	list, err = store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, s := range list {
		if s.SessionID == first.SessionID {
			t.Fatalf("deleted session still listed")
		}
	}
	var n int64
	f.db.Model(&Message{}).Where("session_id = ?", first.SessionID).Count(&n)
	if n != 0 {
		t.Fatalf("messages of deleted session remain: %d", n)
	}
}

func TestSessionStore_Ephemeral(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	store := f.svc.StoreFor(auth.Anonymous())

	sess, err := store.Create(ctx, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !IsAnonymousSessionID(sess.SessionID) || sess.MessageCount != 0 || !sess.IsAnonymous {
		t.Fatalf("unexpected anonymous descriptor: %+v", sess)
	}

	list, err := store.List(ctx)
	if err != nil || len(list) != 0 {
		t.Fatalf("guests never list server sessions, got %v err=%v", list, err)
	}
	if err := store.Delete(ctx, sess.SessionID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	msgs, err := store.Messages(ctx, sess.SessionID, 0, "")
	if err != nil || len(msgs) != 0 {
		t.Fatalf("anonymous sessions have no server messages, got %v err=%v", msgs, err)
	}

	var rows int64
	f.db.Model(&Session{}).Count(&rows)
	if rows != 0 {
		t.Fatalf("ephemeral store must not write, found %d sessions", rows)
	}
}

func TestListMessages(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	sess := f.createSession(t, 13)

	for i := 0; i < 3; i++ {
		if _, err := f.svc.SendMessage(ctx, user(13), "", sess.SessionID, careerQuestion); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	msgs, err := f.svc.ListMessages(ctx, user(13), sess.SessionID, 4, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[3].Role != RoleAssistant {
		t.Fatalf("expected oldest first ordering")
	}

	older, err := f.svc.ListMessages(ctx, user(13), sess.SessionID, 10, msgs[0].MessageID)
	if err != nil {
		t.Fatalf("list older: %v", err)
	}
	if len(older) != 2 {
		t.Fatalf("expected 2 older messages, got %d", len(older))
	}

	if _, err := f.svc.ListMessages(ctx, user(14), sess.SessionID, 10, ""); !common.IsKind(err, common.KindNotFound) {
		t.Fatalf("expected not found for foreign session, got %v", err)
	}
	if _, err := f.svc.ListMessages(ctx, auth.Anonymous(), sess.SessionID, 10, ""); !common.IsKind(err, common.KindAuth) {
		t.Fatalf("expected auth error for guest, got %v", err)
	}
}

func TestRateLimitStatus(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	st, err := f.svc.RateLimitStatus(ctx, user(15), "10.0.0.7")
	if err != nil || st.Remaining != ratelimit.Unlimited {
		t.Fatalf("authenticated callers are unlimited, got %+v err=%v", st, err)
	}

	if _, err := f.svc.SendMessage(ctx, auth.Anonymous(), "10.0.0.7", "", careerQuestion); err != nil {
		t.Fatalf("send: %v", err)
	}
	st, err = f.svc.RateLimitStatus(ctx, auth.Anonymous(), "10.0.0.7")
	if err != nil || st.Remaining != 2 {
		t.Fatalf("expected 2 remaining, got %+v err=%v", st, err)
	}

	if err := f.svc.ResetRateLimit(ctx, "10.0.0.7"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	st, _ = f.svc.RateLimitStatus(ctx, auth.Anonymous(), "10.0.0.7")
	if st.Remaining != 3 {
		t.Fatalf("expected full quota after reset, got %d", st.Remaining)
	}
}

func TestAnalytics(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	sess := f.createSession(t, 16)

	if _, err := f.svc.SendMessage(ctx, user(16), "", sess.SessionID, "resume tips"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := f.svc.SendMessage(ctx, user(16), "", sess.SessionID, careerQuestion); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := f.db.Create(&models.TurnEvent{
		EventID:      "01HANONEVENT00000000000000",
		SessionID:    "anon_session_1_abc",
		IsAnonymous:  true,
		ResponseType: "redirect",
		OccurredAt:   fixedNow(),
	}).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}

	a, err := f.svc.Analytics(ctx)
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if a.AuthenticatedMessages != 4 || a.AnonymousMessages != 2 || a.TotalMessages != 6 {
		t.Fatalf("unexpected counts: %+v", a)
	}
	if a.ResponseTypes["common"] != 1 || a.ResponseTypes["ai"] != 1 || a.ResponseTypes["redirect"] != 1 {
		t.Fatalf("unexpected response types: %#v", a.ResponseTypes)
	}
	if a.Categories["resume"] != 1 || a.Categories[ai.CategoryCustom] != 1 {
		t.Fatalf("unexpected categories: %#v", a.Categories)
	}
	if a.CommonResponseRate < 0.66 || a.CommonResponseRate > 0.67 {
		t.Fatalf("unexpected common response rate %f", a.CommonResponseRate)
	}
	if a.Catalog.TotalResponses != 15 {
		t.Fatalf("expected catalogue stats, got %+v", a.Catalog)
	}
}

func TestStorageUnavailable(t *testing.T) {
	f := newFixture(t, 10)
	sqlDB, _ := f.db.DB()
	_ = sqlDB.Close()

	_, err := f.svc.StoreFor(user(17)).List(context.Background())
	if !common.IsKind(err, common.KindStorageUnavailable) {
		t.Fatalf("expected storage_unavailable, got %v", err)
	}
	if !common.Retryable(common.KindOf(err)) {
		t.Fatalf("storage_unavailable should be retryable")
	}
}

func TestRecordTurnEvent_IsIdempotent(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	ev := TurnEvent{
		EventID:      "01HEVENT000000000000000000",
		SessionID:    "anon_session_1_abc",
		IsAnonymous:  true,
		ResponseType: "common",
		Category:     "resume",
		OccurredAt:   fixedNow(),
	}

	inserted, err := f.repo.RecordTurnEvent(ctx, ev)
	if err != nil || !inserted {
		t.Fatalf("first record: inserted=%v err=%v", inserted, err)
	}
	inserted, err = f.repo.RecordTurnEvent(ctx, ev)
	if err != nil || inserted {
		t.Fatalf("redelivery must be ignored: inserted=%v err=%v", inserted, err)
	}

	var n int64
	f.db.Model(&models.TurnEvent{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected 1 turn event, got %d", n)
	}
}
