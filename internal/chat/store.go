package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/suPer8Hu/career-counselor/internal/common"
	"gorm.io/gorm"
)

// SessionStore is the session registry as seen by one caller. Authenticated
// callers get a PersistedStore, everyone else an EphemeralClientStore.
type SessionStore interface {
	List(ctx context.Context) ([]Session, error)
	Create(ctx context.Context, title string) (*Session, error)
	// Delete is idempotent: unknown or foreign sessions are left alone.
	Delete(ctx context.Context, sessionID string) error
	Messages(ctx context.Context, sessionID string, limit int, before string) ([]Message, error)
}

type PersistedStore struct {
	repo   *Repo
	userID uint64
}

func NewPersistedStore(repo *Repo, userID uint64) *PersistedStore {
	return &PersistedStore{repo: repo, userID: userID}
}

func (s *PersistedStore) List(ctx context.Context) ([]Session, error) {
	sessions, err := s.repo.ListSessions(ctx, s.userID)
	if err != nil {
		log.Printf("[SessionStore.List] failed uid=%d err=%v", s.userID, err)
		return nil, common.StorageUnavailable(err)
	}
	return sessions, nil
}

func (s *PersistedStore) Create(ctx context.Context, title string) (*Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultSessionTitle
	}

	sid, err := NewSessionID()
	if err != nil {
		return nil, common.Internal(err)
	}

	sess := &Session{
		SessionID: sid,
		UserID:    s.userID,
		Title:     title,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		log.Printf("[SessionStore.Create] failed uid=%d err=%v", s.userID, err)
		return nil, common.StorageUnavailable(err)
	}
	return sess, nil
}

func (s *PersistedStore) Delete(ctx context.Context, sessionID string) error {
	if IsAnonymousSessionID(sessionID) {
		return nil
	}
	if _, err := s.repo.DeleteSession(ctx, s.userID, sessionID); err != nil {
		log.Printf("[SessionStore.Delete] failed uid=%d session_id=%s err=%v", s.userID, sessionID, err)
		return common.StorageUnavailable(err)
	}
	return nil
}

func (s *PersistedStore) Messages(ctx context.Context, sessionID string, limit int, before string) ([]Message, error) {
	if IsAnonymousSessionID(sessionID) {
		return []Message{}, nil
	}
	sess, err := s.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NotFound("session not found")
		}
		return nil, common.StorageUnavailable(err)
	}
	if sess.UserID != s.userID {
		return nil, common.NotFound("session not found")
	}

	if limit <= 0 || limit > 100 {
		limit = 50
	}
	msgs, err := s.repo.ListMessages(ctx, s.userID, sessionID, limit, before)
	if err != nil {
		return nil, common.StorageUnavailable(err)
	}
	return msgs, nil
}

// EphemeralClientStore never touches the database; the client keeps
// anonymous sessions itself.
type EphemeralClientStore struct {
	now func() time.Time
}

func NewEphemeralClientStore(now func() time.Time) *EphemeralClientStore {
	if now == nil {
		now = time.Now
	}
	return &EphemeralClientStore{now: now}
}

func (s *EphemeralClientStore) List(ctx context.Context) ([]Session, error) {
	return []Session{}, nil
}

func (s *EphemeralClientStore) Create(ctx context.Context, title string) (*Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultSessionTitle
	}
	now := s.now()
	sid, err := NewAnonymousSessionID(now)
	if err != nil {
		return nil, common.Internal(err)
	}
	return &Session{
		SessionID:   sid,
		Title:       title,
		CreatedAt:   now,
		UpdatedAt:   now,
		IsAnonymous: true,
	}, nil
}

func (s *EphemeralClientStore) Delete(ctx context.Context, sessionID string) error {
	return nil
}

func (s *EphemeralClientStore) Messages(ctx context.Context, sessionID string, limit int, before string) ([]Message, error) {
	if IsAnonymousSessionID(sessionID) {
		return []Message{}, nil
	}
	return nil, common.Unauthorized("sign in to view this conversation")
}
