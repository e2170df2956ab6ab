package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"collab-backend/internal/event"
	"collab-backend/internal/model"
	"collab-backend/internal/persist"
)

// RoomStore PostgreSQL 룸 문서 저장소 (persist.Store)
type RoomStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRoomStore(db *gorm.DB) *RoomStore {
	return &RoomStore{db: db, now: time.Now}
}

var _ persist.Store = (*RoomStore)(nil)

func (s *RoomStore) LoadRoom(ctx context.Context, roomID string) (*persist.Snapshot, error) {
	db := s.db.WithContext(ctx)

	var room model.Room
	if err := db.Where("room_id = ?", roomID).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, persist.ErrNotFound
		}
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}

	var rows []model.WhiteboardObject
	if err := db.Where("room_id = ?", roomID).Order("position ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load objects %s: %w", roomID, err)
	}
	objects := make([]event.Object, 0, len(rows))
	for _, r := range rows {
		var obj event.Object
		if err := json.Unmarshal([]byte(r.Data), &obj); err != nil {
			return nil, fmt.Errorf("decode object %s/%s: %w", roomID, r.ObjectID, err)
		}
		objects = append(objects, obj)
	}

	var msgs []model.ChatMessage
	// 로그 순서는 relay 도착 순서(자동 증가 id). sent_at은 클라이언트 시계라 정렬 기준이 아니다
	if err := db.Where("room_id = ?", roomID).Order("id ASC").Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("load chat %s: %w", roomID, err)
	}
	chat := make([]event.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		chat = append(chat, event.ChatMessage{
			ID:     m.MessageID,
			From:   m.SenderID,
			Name:   m.SenderName,
			Text:   m.Text,
			SentAt: m.SentAt,
		})
	}

	return &persist.Snapshot{
		RoomID:    roomID,
		Objects:   objects,
		Code:      room.Code,
		Chat:      chat,
		UpdatedAt: room.UpdatedAt,
	}, nil
}

func (s *RoomStore) UpsertObject(ctx context.Context, roomID string, obj event.Object) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.touchRoom(tx, roomID); err != nil {
			return err
		}
		row := model.WhiteboardObject{
			RoomID:   roomID,
			ObjectID: obj.ID,
			Kind:     model.ObjectKind(obj.Kind),
			Data:     string(data),
			Position: s.now().UnixNano(),
		}
		// 기존 오브젝트는 position을 유지하고 전체 값만 교체
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}, {Name: "object_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"kind", "data", "updated_at"}),
		}).Create(&row).Error
	})
}

func (s *RoomStore) DeleteObject(ctx context.Context, roomID, objectID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.touchRoom(tx, roomID); err != nil {
			return err
		}
		return tx.Where("room_id = ? AND object_id = ?", roomID, objectID).
			Delete(&model.WhiteboardObject{}).Error
	})
}

func (s *RoomStore) ClearObjects(ctx context.Context, roomID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.touchRoom(tx, roomID); err != nil {
			return err
		}
		return tx.Where("room_id = ?", roomID).Delete(&model.WhiteboardObject{}).Error
	})
}

func (s *RoomStore) SetCode(ctx context.Context, roomID, code string) error {
	room := model.Room{RoomID: roomID, Code: code}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"code", "updated_at"}),
	}).Create(&room).Error
}

func (s *RoomStore) AppendChat(ctx context.Context, roomID string, msg event.ChatMessage) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.touchRoom(tx, roomID); err != nil {
			return err
		}
		row := model.ChatMessage{
			RoomID:     roomID,
			MessageID:  msg.ID,
			SenderID:   msg.From,
			SenderName: msg.Name,
			Text:       msg.Text,
			SentAt:     msg.SentAt,
		}
		// 재시도로 같은 메시지가 다시 와도 한 번만 저장
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			DoNothing: true,
		}).Create(&row).Error
	})
}

// PruneInactive deletes rooms (and their objects and chat) untouched since before cutoff.
func (s *RoomStore) PruneInactive(ctx context.Context, cutoff time.Time, dryRun bool) ([]string, error) {
	var ids []string
	db := s.db.WithContext(ctx)
	if err := db.Model(&model.Room{}).Where("updated_at < ?", cutoff).Pluck("room_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("find inactive rooms: %w", err)
	}
	if dryRun || len(ids) == 0 {
		return ids, nil
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id IN ?", ids).Delete(&model.WhiteboardObject{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id IN ?", ids).Delete(&model.ChatMessage{}).Error; err != nil {
			return err
		}
		return tx.Where("room_id IN ?", ids).Delete(&model.Room{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("prune rooms: %w", err)
	}
	return ids, nil
}

// touchRoom 룸 행을 만들거나 updated_at 갱신
func (s *RoomStore) touchRoom(tx *gorm.DB, roomID string) error {
	room := model.Room{RoomID: roomID}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"updated_at"}),
	}).Create(&room).Error
}
