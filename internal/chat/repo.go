package chat

import (
	"context"
	"errors"

	"github.com/suPer8Hu/career-counselor/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateSession(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *Repo) GetSessionBySessionID(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions returns the user's sessions newest first with message counts filled in.
func (r *Repo) ListSessions(ctx context.Context, userID uint64) ([]Session, error) {
	var sessions []Session
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return sessions, nil
	}

	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.SessionID)
	}

	type row struct {
		SessionID string
		N         int64
	}
	var counts []row
	if err := r.db.WithContext(ctx).Model(&Message{}).
		Select("session_id, COUNT(*) AS n").
		Where("session_id IN ?", ids).
		Group("session_id").
		Scan(&counts).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]int64, len(counts))
	for _, c := range counts {
		byID[c.SessionID] = c.N
	}
	for i := range sessions {
		sessions[i].MessageCount = byID[sessions[i].SessionID]
	}
	return sessions, nil
}

// DeleteSession removes the session's messages and then the session, only if
// userID owns it. It reports whether anything was deleted.
func (r *Repo) DeleteSession(ctx context.Context, userID uint64, sessionID string) (bool, error) {
	deleted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s Session
		err := tx.Where("session_id = ? AND user_id = ?", sessionID, userID).First(&s).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&Message{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&s).Error; err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// ListMessages returns up to limit messages older than beforeMessageID (when
// set), in ASC id order (oldest -> newest).
func (r *Repo) ListMessages(ctx context.Context, userID uint64, sessionID string, limit int, beforeMessageID string) ([]Message, error) {
	q := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Order("id DESC").
		Limit(limit)

	if beforeMessageID != "" {
		q = q.Where("id < (?)", r.db.Model(&Message{}).Select("id").Where("message_id = ?", beforeMessageID))
	}

	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// ListRecentMessagesDesc returns the most recent messages in DESC id order (newest -> oldest).
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, userID uint64, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// InsertTurn writes the user and assistant messages in one transaction. When
// they are the session's first two messages the session gets title.
// It returns the title that was set, or "".
func (r *Repo) InsertTurn(ctx context.Context, userMsg, assistantMsg *Message, title string) (string, error) {
	applied := ""
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(userMsg).Error; err != nil {
			return err
		}
		if err := tx.Create(assistantMsg).Error; err != nil {
			return err
		}

		var n int64
		if err := tx.Model(&Message{}).Where("session_id = ?", userMsg.SessionID).Count(&n).Error; err != nil {
			return err
		}

		updates := map[string]any{"updated_at": assistantMsg.CreatedAt}
		if n == 2 {
			updates["title"] = title
			applied = title
		}
		return tx.Model(&Session{}).
			Where("session_id = ?", userMsg.SessionID).
			Updates(updates).Error
	})
	if err != nil {
		return "", err
	}
	return applied, nil
}

// Turn is a stored user message and the reply written with it.
type Turn struct {
	User      Message
	Assistant Message
}

// FindTurnByKey returns the turn the user sent with key. An empty sessionID
// searches all of the user's sessions.
func (r *Repo) FindTurnByKey(ctx context.Context, userID uint64, sessionID, key string) (*Turn, error) {
	q := r.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ? AND role = ?", userID, key, RoleUser)
	if sessionID != "" {
		q = q.Where("session_id = ?", sessionID)
	}
	var t Turn
	if err := q.First(&t.User).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).
		Where("reply_to = ? AND role = ?", t.User.MessageID, RoleAssistant).
		First(&t.Assistant).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertTurnOrGetExisting is InsertTurn for keyed turns: when a turn with the
// same key was stored first, that turn is returned and nothing is written.
func (r *Repo) InsertTurnOrGetExisting(ctx context.Context, userMsg, assistantMsg *Message, title string) (string, *Turn, error) {
	applied, err := r.InsertTurn(ctx, userMsg, assistantMsg, title)
	if err == nil || userMsg.IdempotencyKey == nil {
		return applied, nil, err
	}

	existing, getErr := r.FindTurnByKey(ctx, userMsg.UserID, userMsg.SessionID, *userMsg.IdempotencyKey)
	if getErr == nil {
		return "", existing, nil
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return "", nil, err
	}
	return "", nil, getErr
}

// RecordTurnEvent stores ev once. Redelivered events with a known event id
// are ignored; the return value reports whether a row was inserted.
func (r *Repo) RecordTurnEvent(ctx context.Context, ev TurnEvent) (bool, error) {
	row := models.TurnEvent{
		EventID:      ev.EventID,
		SessionID:    ev.SessionID,
		UserID:       ev.UserID,
		IsAnonymous:  ev.IsAnonymous,
		ResponseType: ev.ResponseType,
		Category:     ev.Category,
		OccurredAt:   ev.OccurredAt.UTC(),
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

type MessageStats struct {
	Total         int64
	Authenticated int64
	Anonymous     int64
	ResponseTypes map[string]int64
	Categories    map[string]int64
}

type groupCount struct {
	Bucket string
	N      int64
}

// MessageStats aggregates stored messages. Anonymous turns are never stored
// as messages, they are counted from recorded turn events instead.
func (r *Repo) MessageStats(ctx context.Context) (*MessageStats, error) {
	st := &MessageStats{
		ResponseTypes: make(map[string]int64),
		Categories:    make(map[string]int64),
	}
	db := r.db.WithContext(ctx)

	if err := db.Model(&Message{}).Count(&st.Authenticated).Error; err != nil {
		return nil, err
	}

	var anonTurns int64
	if err := db.Model(&models.TurnEvent{}).Where("is_anonymous = ?", true).Count(&anonTurns).Error; err != nil {
		return nil, err
	}
	// one user and one assistant message per turn
	st.Anonymous = anonTurns * 2
	st.Total = st.Authenticated + st.Anonymous

	var rows []groupCount
	if err := db.Model(&Message{}).
		Select("response_type AS bucket, COUNT(*) AS n").
		Where("role = ? AND response_type <> ''", RoleAssistant).
		Group("response_type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, g := range rows {
		st.ResponseTypes[g.Bucket] += g.N
	}

	rows = rows[:0]
	if err := db.Model(&Message{}).
		Select("category AS bucket, COUNT(*) AS n").
		Where("role = ? AND category <> ''", RoleAssistant).
		Group("category").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, g := range rows {
		st.Categories[g.Bucket] += g.N
	}

	rows = rows[:0]
	if err := db.Model(&models.TurnEvent{}).
		Select("response_type AS bucket, COUNT(*) AS n").
		Where("is_anonymous = ?", true).
		Group("response_type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, g := range rows {
		st.ResponseTypes[g.Bucket] += g.N
	}

	rows = rows[:0]
	if err := db.Model(&models.TurnEvent{}).
		Select("category AS bucket, COUNT(*) AS n").
		Where("is_anonymous = ? AND category <> ''", true).
		Group("category").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, g := range rows {
		st.Categories[g.Bucket] += g.N
	}

	return st, nil
}

func reverse(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
