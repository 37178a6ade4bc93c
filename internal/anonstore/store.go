// Package anonstore is the client-held store for anonymous chat sessions.
// The server never reads or writes it; each tab sees only its own sessions.
package anonstore

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/suPer8Hu/career-counselor/internal/chat"
)

const (
	tabIDPrefix     = "anon_"
	messageIDPrefix = "msg_"
	titleMaxRunes   = 50
)

var ErrSessionNotFound = errors.New("anonymous session not found")

type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Role      chat.Role `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	MessageCount int       `json:"messageCount"`
	Messages     []Message `json:"messages"`
}

type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// Event is emitted after every successful mutation.
type Event struct {
	Type      EventType `json:"type"`
	TabID     string    `json:"tab_id"`
	SessionID string    `json:"session_id"`
}

type Store struct {
	mu      sync.Mutex
	backend Backend
	tabID   string
	now     func() time.Time

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// New opens the view of one tab. An empty tabID mints a fresh one.
func New(backend Backend, tabID string) (*Store, error) {
	s := &Store{backend: backend, tabID: tabID, now: time.Now, subs: make(map[int]chan Event)}
	if s.tabID == "" {
		id, err := chat.NewLocalID(tabIDPrefix, s.now())
		if err != nil {
			return nil, err
		}
		s.tabID = id
	}
	return s, nil
}

func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) TabID() string { return s.tabID }

// Sessions returns this tab's sessions, newest first.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := all[s.tabID]
	if out == nil {
		out = []Session{}
	}
	return out, nil
}

// Create prepends a new empty session.
func (s *Store) Create(ctx context.Context, title string) (Session, error) {
	if title == "" {
		title = chat.DefaultSessionTitle
	}
	now := s.now()
	id, err := chat.NewAnonymousSessionID(now)
	if err != nil {
		return Session{}, err
	}
	sess := Session{ID: id, Title: title, CreatedAt: now, Messages: []Message{}}

	err = s.mutate(ctx, func(list []Session) ([]Session, error) {
		return append([]Session{sess}, list...), nil
	})
	if err != nil {
		return Session{}, err
	}
	s.publish(Event{Type: EventCreated, TabID: s.tabID, SessionID: id})
	return sess, nil
}

// Adopt stores a descriptor the server synthesized, unless it is already known.
func (s *Store) Adopt(ctx context.Context, id, title string) error {
	if !chat.IsAnonymousSessionID(id) {
		return errors.New("not an anonymous session id: " + id)
	}
	if title == "" {
		title = chat.DefaultSessionTitle
	}
	added := false
	err := s.mutate(ctx, func(list []Session) ([]Session, error) {
		if indexOf(list, id) >= 0 {
			return list, nil
		}
		added = true
		sess := Session{ID: id, Title: title, CreatedAt: s.now(), Messages: []Message{}}
		return append([]Session{sess}, list...), nil
	})
	if err != nil {
		return err
	}
	if added {
		s.publish(Event{Type: EventCreated, TabID: s.tabID, SessionID: id})
	}
	return nil
}

// AddMessage appends a message. The first user message also becomes the
// session title.
func (s *Store) AddMessage(ctx context.Context, sessionID string, role chat.Role, content string) (Message, error) {
	now := s.now()
	id, err := chat.NewLocalID(messageIDPrefix, now)
	if err != nil {
		return Message{}, err
	}
	msg := Message{ID: id, Content: content, Role: role, Timestamp: now}

	err = s.mutate(ctx, func(list []Session) ([]Session, error) {
		i := indexOf(list, sessionID)
		if i < 0 {
			return nil, ErrSessionNotFound
		}
		sess := &list[i]
		sess.Messages = append(sess.Messages, msg)
		sess.MessageCount = len(sess.Messages)
		if role == chat.RoleUser && countRole(sess.Messages, chat.RoleUser) == 1 {
			sess.Title = localTitle(content)
		}
		return list, nil
	})
	if err != nil {
		return Message{}, err
	}
	s.publish(Event{Type: EventUpdated, TabID: s.tabID, SessionID: sessionID})
	return msg, nil
}

// Messages returns the session's messages in order, or nil for unknown ids.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	list, err := s.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	if i := indexOf(list, sessionID); i >= 0 {
		return list[i].Messages, nil
	}
	return nil, nil
}

// Delete is a no-op for unknown ids.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	removed := false
	err := s.mutate(ctx, func(list []Session) ([]Session, error) {
		out := list[:0]
		for _, sess := range list {
			if sess.ID == sessionID {
				removed = true
				continue
			}
			out = append(out, sess)
		}
		return out, nil
	})
	if err != nil {
		return err
	}
	if removed {
		s.publish(Event{Type: EventDeleted, TabID: s.tabID, SessionID: sessionID})
	}
	return nil
}

// Subscribe returns a channel of mutation events. Slow subscribers miss
// events rather than block writers. Call cancel to stop receiving.
func (s *Store) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) publish(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			log.Printf("[anonstore] subscriber=%d full, dropped event=%s session_id=%s", id, ev.Type, ev.SessionID)
		}
	}
}

func (s *Store) mutate(ctx context.Context, fn func([]Session) ([]Session, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.backend.Load(ctx)
	if err != nil {
		return err
	}
	list, err := fn(all[s.tabID])
	if err != nil {
		return err
	}
	all[s.tabID] = list
	return s.backend.Save(ctx, all)
}

func indexOf(list []Session, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func countRole(msgs []Message, role chat.Role) int {
	n := 0
	for _, m := range msgs {
		if m.Role == role {
			n++
		}
	}
	return n
}

func localTitle(content string) string {
	if utf8.RuneCountInString(content) <= titleMaxRunes {
		return content
	}
	return string([]rune(content)[:titleMaxRunes]) + "..."
}
