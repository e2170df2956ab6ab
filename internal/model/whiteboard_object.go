package model

import (
	"time"
)

// ObjectKind 화이트보드 오브젝트 종류
type ObjectKind string

const (
	ObjectKindPath  ObjectKind = "path"
	ObjectKindShape ObjectKind = "shape"
	ObjectKindText  ObjectKind = "text"
	ObjectKindGroup ObjectKind = "group"
)

func (k ObjectKind) String() string {
	return string(k)
}

// WhiteboardObject 화이트보드 오브젝트 (룸당 object_id 유일)
type WhiteboardObject struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID    string     `gorm:"size:128;not null;uniqueIndex:idx_room_object,priority:1;index:idx_room_position,priority:1" json:"room_id"`
	ObjectID  string     `gorm:"size:128;not null;uniqueIndex:idx_room_object,priority:2" json:"object_id"`
	Kind      ObjectKind `gorm:"size:16;not null" json:"kind"`
	Data      string     `gorm:"type:jsonb;not null" json:"data"` // 오브젝트 전체 JSON
	Position  int64      `gorm:"not null;index:idx_room_position,priority:2" json:"position"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WhiteboardObject) TableName() string {
	return "whiteboard_objects"
}
