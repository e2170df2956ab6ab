package model

import "time"

// Room 협업 룸 문서 (코드 버퍼 포함)
type Room struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID    string    `gorm:"size:128;not null;uniqueIndex" json:"room_id"`
	Code      string    `gorm:"type:text;not null;default:''" json:"code"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;index" json:"updated_at"`
}

func (Room) TableName() string {
	return "rooms"
}

// ChatMessage 룸 채팅 (append-only)
type ChatMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID     string    `gorm:"size:128;not null;index:idx_room_chat,priority:1" json:"room_id"`
	MessageID  string    `gorm:"size:26;not null;uniqueIndex" json:"message_id"` // ULID
	SenderID   string    `gorm:"size:64;not null" json:"sender_id"`
	SenderName string    `gorm:"size:100" json:"sender_name"`
	Text       string    `gorm:"type:text;not null" json:"text"`
	SentAt     time.Time `gorm:"not null;index:idx_room_chat,priority:2" json:"sent_at"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}
