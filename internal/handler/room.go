package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"collab-backend/internal/event"
	"collab-backend/internal/persist"
	"collab-backend/internal/relay"
	"collab-backend/internal/roster"
)

// RosterLister Redis roster 조회
type RosterLister interface {
	List(ctx context.Context, roomID string) ([]roster.Entry, error)
}

// RoomHandler 룸 REST 핸들러
type RoomHandler struct {
	hub    *relay.Hub
	roster RosterLister
	log    *zap.Logger
}

// NewRoomHandler RoomHandler 생성. roster는 nil 가능
func NewRoomHandler(hub *relay.Hub, roster RosterLister, log *zap.Logger) *RoomHandler {
	return &RoomHandler{hub: hub, roster: roster, log: log}
}

// SnapshotResponse 룸 스냅샷 응답
type SnapshotResponse struct {
	RoomID string             `json:"roomId"`
	Live   bool               `json:"live"`
	State  event.RoomSnapshot `json:"state"`
}

// GetSnapshot 룸 문서 조회 (라이브 룸이면 메모리, 아니면 저장소)
// GET /api/rooms/:roomId/snapshot
func (h *RoomHandler) GetSnapshot(c *fiber.Ctx) error {
	roomID := c.Params("roomId")

	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	snap, live, err := h.hub.Snapshot(ctx, roomID)
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "room not found",
			})
		}
		h.log.Error("[Room] snapshot failed", zap.String("room", roomID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load room",
		})
	}

	return c.JSON(SnapshotResponse{RoomID: roomID, Live: live, State: snap})
}

// ParticipantsResponse 참가자 목록 응답
type ParticipantsResponse struct {
	RoomID       string              `json:"roomId"`
	Source       string              `json:"source"`
	Participants []event.Participant `json:"participants"`
}

// GetParticipants 룸 참가자 목록
// GET /api/rooms/:roomId/participants
func (h *RoomHandler) GetParticipants(c *fiber.Ctx) error {
	roomID := c.Params("roomId")

	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	if h.roster != nil {
		entries, err := h.roster.List(ctx, roomID)
		if err == nil {
			list := make([]event.Participant, 0, len(entries))
			for _, e := range entries {
				list = append(list, e.Participant)
			}
			return c.JSON(ParticipantsResponse{RoomID: roomID, Source: "roster", Participants: list})
		}
		// Redis 장애 시 이 서버의 라이브 룸으로 대체
		h.log.Warn("[Room] roster list failed", zap.String("room", roomID), zap.Error(err))
	}

	snap, live, err := h.hub.Snapshot(ctx, roomID)
	if err != nil && !errors.Is(err, persist.ErrNotFound) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load participants",
		})
	}
	list := snap.Participants
	if !live || list == nil {
		list = []event.Participant{}
	}
	return c.JSON(ParticipantsResponse{RoomID: roomID, Source: "local", Participants: list})
}
