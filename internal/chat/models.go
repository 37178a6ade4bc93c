package chat

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const DefaultSessionTitle = "New Chat"

type Session struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"session_id"`
	UserID    uint64    `gorm:"index;not null" json:"-"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// derived, never stored
	MessageCount int64 `gorm:"-" json:"message_count"`
	IsAnonymous  bool  `gorm:"-" json:"is_anonymous"`
}

func (Session) TableName() string { return "chat_sessions" }

// Message rows are written in user/assistant pairs and never updated.
//
// IdempotencyKey is only set on the user message of a turn sent with a
// client request key; the assistant message points back through ReplyTo.
type Message struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	MessageID      string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"id"`
	SessionID      string    `gorm:"type:varchar(64);not null;index:idx_chat_msg_user_session_id,priority:2;index:uniq_chat_msg_idempo,unique,priority:2" json:"session_id"`
	UserID         uint64    `gorm:"not null;index:idx_chat_msg_user_session_id,priority:1;index:uniq_chat_msg_idempo,unique,priority:1" json:"-"`
	Role           Role      `gorm:"type:varchar(16);index;not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	IsAnonymous    bool      `gorm:"not null;default:false" json:"is_anonymous"`
	ResponseType   string    `gorm:"type:varchar(16);index" json:"response_type,omitempty"`
	Category       string    `gorm:"type:varchar(32);index" json:"category,omitempty"`
	IdempotencyKey *string   `gorm:"type:varchar(128);index:uniq_chat_msg_idempo,unique,priority:3" json:"-"`
	ReplyTo        string    `gorm:"type:varchar(64);index" json:"reply_to,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }
