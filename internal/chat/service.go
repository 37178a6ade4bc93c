package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/suPer8Hu/career-counselor/internal/ai"
	"github.com/suPer8Hu/career-counselor/internal/auth"
	"github.com/suPer8Hu/career-counselor/internal/classifier"
	"github.com/suPer8Hu/career-counselor/internal/common"
	"github.com/suPer8Hu/career-counselor/internal/ratelimit"
	"gorm.io/gorm"
)

const (
	DefaultMaxMessageLength = 4000
	MaxRequestKeyLength     = 128
)

// TurnEvent describes a completed turn for analytics. It never carries content.
type TurnEvent struct {
	EventID      string    `json:"event_id"`
	SessionID    string    `json:"session_id"`
	UserID       uint64    `json:"user_id,omitempty"`
	IsAnonymous  bool      `json:"is_anonymous"`
	ResponseType string    `json:"response_type"`
	Category     string    `json:"category,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

type TurnPublisher interface {
	PublishTurn(ctx context.Context, ev TurnEvent) error
}

type Service struct {
	repo              *Repo
	responder         *ai.Responder
	limiter           ratelimit.Store
	publisher         TurnPublisher
	contextWindowSize int
	maxMessageLength  int
	now               func() time.Time
}

func NewService(repo *Repo, responder *ai.Responder, limiter ratelimit.Store, contextWindowSize int) *Service {
	if contextWindowSize <= 0 || contextWindowSize > 100 {
		contextWindowSize = 10
	}
	return &Service{
		repo:              repo,
		responder:         responder,
		limiter:           limiter,
		contextWindowSize: contextWindowSize,
		maxMessageLength:  DefaultMaxMessageLength,
		now:               time.Now,
	}
}

func (s *Service) WithMaxMessageLength(n int) *Service {
	if n > 0 {
		s.maxMessageLength = n
	}
	return s
}

// WithPublisher enables turn events. A nil publisher disables them.
func (s *Service) WithPublisher(p TurnPublisher) *Service {
	s.publisher = p
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// StoreFor picks the session registry variant for the caller.
func (s *Service) StoreFor(id auth.Identity) SessionStore {
	if id.Authenticated {
		return NewPersistedStore(s.repo, id.UserID)
	}
	return NewEphemeralClientStore(s.now)
}

type SendResult struct {
	UserMessage Message           `json:"user_message"`
	AIMessage   Message           `json:"ai_message"`
	SessionID   string            `json:"session_id"`
	Title       string            `json:"title,omitempty"`
	RateLimit   *ratelimit.Status `json:"rate_limit_info,omitempty"`
}

// SendMessage runs one chat turn. Anonymous callers in anonymous sessions are
// charged against their IP quota before the reply is generated, so a failed
// generation still consumes quota. Persisted turns are written as a pair or
// not at all; anonymous turns are only echoed back.
func (s *Service) SendMessage(ctx context.Context, caller auth.Identity, ip, sessionID, content string) (*SendResult, error) {
	return s.SendMessageOnce(ctx, caller, ip, sessionID, content, "")
}

// SendMessageOnce is SendMessage with a client request key. Repeating a key
// returns the stored turn for signed-in callers and is not charged again for
// guests. An empty key behaves like SendMessage.
func (s *Service) SendMessageOnce(ctx context.Context, caller auth.Identity, ip, sessionID, content, key string) (*SendResult, error) {
	// 1) validate
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, common.Validation("message content is required")
	}
	if utf8.RuneCountInString(content) > s.maxMessageLength {
		return nil, common.Validation(fmt.Sprintf("message must be at most %d characters", s.maxMessageLength))
	}
	key = strings.TrimSpace(key)
	if len(key) > MaxRequestKeyLength {
		return nil, common.Validation(fmt.Sprintf("idempotency key must be at most %d characters", MaxRequestKeyLength))
	}
	sessionID = strings.TrimSpace(sessionID)

	// 2) replay a stored turn before anything is charged or generated
	if key != "" && caller.Authenticated && !IsAnonymousSessionID(sessionID) {
		t, err := s.repo.FindTurnByKey(ctx, caller.UserID, sessionID, key)
		if err == nil {
			return &SendResult{SessionID: t.User.SessionID, UserMessage: t.User, AIMessage: t.Assistant}, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.StorageUnavailable(err)
		}
	}

	// 3) session kind, lazily creating one when none was given
	if sessionID == "" {
		sess, err := s.StoreFor(caller).Create(ctx, "")
		if err != nil {
			return nil, err
		}
		sessionID = sess.SessionID
	}
	anonymous := IsAnonymousSessionID(sessionID)

	// 4) quota for guests
	var rl *ratelimit.Status
	if anonymous && !caller.Authenticated {
		st, err := s.chargeGuest(ctx, ip, key)
		if err != nil {
			return nil, err
		}
		rl = &st
	}

	// 5) ownership + history for persisted sessions
	var history []ai.Message
	if !anonymous {
		if !caller.Authenticated {
			return nil, common.Unauthorized("sign in to continue this conversation")
		}
		h, err := s.loadHistory(ctx, caller.UserID, sessionID)
		if err != nil {
			return nil, err
		}
		history = h
	}

	// 6) generate
	reply, err := s.responder.Respond(ctx, content, history)
	if err != nil {
		log.Printf("[SendMessage] generate failed uid=%d session_id=%s kind=%s err=%v",
			caller.UserID, sessionID, common.KindOf(err), err)
		return nil, err
	}

	// 7) persist or echo
	now := s.now()
	userMsg := Message{
		SessionID:   sessionID,
		UserID:      caller.UserID,
		Role:        RoleUser,
		Content:     content,
		IsAnonymous: anonymous,
		CreatedAt:   now,
	}
	aiMsg := Message{
		SessionID:    sessionID,
		UserID:       caller.UserID,
		Role:         RoleAssistant,
		Content:      reply.Text,
		IsAnonymous:  anonymous,
		ResponseType: string(reply.Type),
		Category:     reply.Category,
		CreatedAt:    now,
	}

	res := &SendResult{SessionID: sessionID, RateLimit: rl}
	if anonymous {
		userMsg.MessageID = NewTempMessageID()
		aiMsg.MessageID = NewTempMessageID()
	} else {
		if userMsg.MessageID, err = common.NewULID(); err != nil {
			return nil, common.Internal(err)
		}
		if aiMsg.MessageID, err = common.NewULID(); err != nil {
			return nil, common.Internal(err)
		}
		aiMsg.ReplyTo = userMsg.MessageID
		if key != "" {
			userMsg.IdempotencyKey = &key
		}
		// 8) both messages + first-turn title in one transaction
		title, existing, err := s.repo.InsertTurnOrGetExisting(ctx, &userMsg, &aiMsg, DeriveTitle(content))
		if err != nil {
			log.Printf("[SendMessage] InsertTurn failed uid=%d session_id=%s err=%v", caller.UserID, sessionID, err)
			return nil, common.StorageUnavailable(err)
		}
		if existing != nil {
			// a concurrent request with the same key won
			res.UserMessage = existing.User
			res.AIMessage = existing.Assistant
			return res, nil
		}
		res.Title = title
	}
	res.UserMessage = userMsg
	res.AIMessage = aiMsg

	s.publishTurn(ctx, caller, sessionID, anonymous, reply)
	return res, nil
}

func (s *Service) chargeGuest(ctx context.Context, ip, key string) (ratelimit.Status, error) {
	if key != "" {
		st, replay, err := s.limiter.IncrementOnce(ctx, ip, key)
		if err != nil {
			log.Printf("[SendMessage] rate limit increment failed ip=%s err=%v", ip, err)
			return ratelimit.Status{}, err
		}
		if replay {
			log.Printf("[SendMessage] repeated request key ip=%s not charged", ip)
		}
		if !st.Allowed {
			return st, common.RateLimited(st.ResetAt)
		}
		return st, nil
	}

	st, err := s.limiter.Check(ctx, ip)
	if err != nil {
		log.Printf("[SendMessage] rate limit check failed ip=%s err=%v", ip, err)
		return ratelimit.Status{}, err
	}
	if !st.Allowed {
		return st, common.RateLimited(st.ResetAt)
	}
	st, err = s.limiter.Increment(ctx, ip)
	if err != nil {
		log.Printf("[SendMessage] rate limit increment failed ip=%s err=%v", ip, err)
		return ratelimit.Status{}, err
	}
	if !st.Allowed {
		// lost a race for the last slot
		return st, common.RateLimited(st.ResetAt)
	}
	return st, nil
}

func (s *Service) loadHistory(ctx context.Context, userID uint64, sessionID string) ([]ai.Message, error) {
	sess, err := s.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NotFound("session not found")
		}
		return nil, common.StorageUnavailable(err)
	}
	if sess.UserID != userID {
		return nil, common.NotFound("session not found")
	}

	recentDesc, err := s.repo.ListRecentMessagesDesc(ctx, userID, sessionID, s.contextWindowSize)
	if err != nil {
		return nil, common.StorageUnavailable(err)
	}

	// reverse to ASC (oldest -> newest)
	history := make([]ai.Message, 0, len(recentDesc))
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		history = append(history, ai.Message{Role: string(m.Role), Content: m.Content})
	}
	return history, nil
}

func (s *Service) publishTurn(ctx context.Context, caller auth.Identity, sessionID string, anonymous bool, reply ai.Reply) {
	if s.publisher == nil {
		return
	}
	eventID, err := common.NewULID()
	if err != nil {
		log.Printf("[SendMessage] NewULID for turn event failed session_id=%s err=%v", sessionID, err)
		return
	}
	ev := TurnEvent{
		EventID:      eventID,
		SessionID:    sessionID,
		UserID:       caller.UserID,
		IsAnonymous:  anonymous,
		ResponseType: string(reply.Type),
		Category:     reply.Category,
		OccurredAt:   s.now(),
	}
	if err := s.publisher.PublishTurn(ctx, ev); err != nil {
		log.Printf("[SendMessage] PublishTurn failed session_id=%s event_id=%s err=%v", sessionID, eventID, err)
	}
}

// ListMessages returns the caller's messages for a session, oldest first.
// Anonymous sessions always yield an empty list.
func (s *Service) ListMessages(ctx context.Context, caller auth.Identity, sessionID string, limit int, before string) ([]Message, error) {
	return s.StoreFor(caller).Messages(ctx, sessionID, limit, before)
}

// RateLimitStatus reports the guest quota for ip without touching it.
func (s *Service) RateLimitStatus(ctx context.Context, caller auth.Identity, ip string) (ratelimit.Status, error) {
	if caller.Authenticated {
		return ratelimit.UnlimitedStatus(), nil
	}
	return s.limiter.Status(ctx, ip)
}

func (s *Service) ResetRateLimit(ctx context.Context, ip string) error {
	return s.limiter.Reset(ctx, ip)
}

type Analytics struct {
	TotalMessages         int64            `json:"total_messages"`
	AuthenticatedMessages int64            `json:"authenticated_messages"`
	AnonymousMessages     int64            `json:"anonymous_messages"`
	ResponseTypes         map[string]int64 `json:"response_types"`
	Categories            map[string]int64 `json:"categories"`
	CommonResponseRate    float64          `json:"common_response_rate"`
	Catalog               classifier.Stats `json:"catalog"`
}

func (s *Service) Analytics(ctx context.Context) (*Analytics, error) {
	st, err := s.repo.MessageStats(ctx)
	if err != nil {
		log.Printf("[Analytics] MessageStats failed err=%v", err)
		return nil, common.StorageUnavailable(err)
	}

	out := &Analytics{
		TotalMessages:         st.Total,
		AuthenticatedMessages: st.Authenticated,
		AnonymousMessages:     st.Anonymous,
		ResponseTypes:         st.ResponseTypes,
		Categories:            st.Categories,
		Catalog:               s.responder.Classifier().Stats(),
	}

	var replies int64
	for _, n := range st.ResponseTypes {
		replies += n
	}
	if replies > 0 {
		canned := st.ResponseTypes[string(classifier.TypeCommon)] + st.ResponseTypes[string(classifier.TypeRedirect)]
		out.CommonResponseRate = float64(canned) / float64(replies)
	}
	return out, nil
}
