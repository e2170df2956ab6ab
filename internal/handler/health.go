package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"collab-backend/internal/database"
	"collab-backend/internal/relay"
)

// Pinger Redis 헬스체크
type Pinger interface {
	Health(ctx context.Context) error
}

// HealthHandler 헬스체크 핸들러
type HealthHandler struct {
	db     *gorm.DB
	redis  Pinger
	hub    *relay.Hub
	folder *relay.Folder
}

// NewHealthHandler HealthHandler 생성. db, redis는 설정되지 않았으면 nil
func NewHealthHandler(db *gorm.DB, redis Pinger, hub *relay.Hub, folder *relay.Folder) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, hub: hub, folder: folder}
}

// ComponentCheck 컴포넌트 상태
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RelayStats 라이브 상태 요약
type RelayStats struct {
	Rooms   int               `json:"rooms"`
	Persist relay.FolderStats `json:"persist"`
}

// HealthResponse 헬스체크 응답
type HealthResponse struct {
	Status    string                    `json:"status"`
	Timestamp string                    `json:"timestamp"`
	Checks    map[string]ComponentCheck `json:"checks"`
	Relay     RelayStats                `json:"relay"`
}

// Check 전체 상태 확인 (DB + Redis + relay)
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Checks:    make(map[string]ComponentCheck),
	}

	// 1. Database 체크. 저장소가 죽으면 라이브 동기화는 되지만 영속화가 안 된다
	response.Checks["database"] = h.checkDatabase(ctx)
	if response.Checks["database"].Status == "unhealthy" {
		response.Status = "unhealthy"
	}

	// 2. Redis 체크 (캐시/roster는 없어도 동작)
	switch {
	case h.redis == nil:
		response.Checks["redis"] = ComponentCheck{Status: "not_configured"}
	default:
		start := time.Now()
		if err := h.redis.Health(ctx); err != nil {
			response.Checks["redis"] = ComponentCheck{
				Status: "degraded",
				Error:  "redis ping failed",
			}
		} else {
			response.Checks["redis"] = ComponentCheck{
				Status:  "healthy",
				Latency: time.Since(start).String(),
			}
		}
	}

	// 3. Relay 통계
	if h.hub != nil {
		response.Relay.Rooms = h.hub.RoomCount()
	}
	if h.folder != nil {
		response.Relay.Persist = h.folder.Stats()
	}

	statusCode := fiber.StatusOK
	if response.Status == "unhealthy" {
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(response)
}

func (h *HealthHandler) checkDatabase(ctx context.Context) ComponentCheck {
	if h.db == nil {
		return ComponentCheck{Status: "not_configured"}
	}
	start := time.Now()
	if err := database.Ping(ctx, h.db); err != nil {
		return ComponentCheck{
			Status: "unhealthy",
			Error:  "database ping failed",
		}
	}
	return ComponentCheck{
		Status:  "healthy",
		Latency: time.Since(start).String(),
	}
}

// Liveness K8s liveness probe용 (단순 체크)
func (h *HealthHandler) Liveness(c *fiber.Ctx) error {
	return c.SendString("OK")
}

// Readiness K8s readiness probe용 (DB 연결 체크)
func (h *HealthHandler) Readiness(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()
	if h.checkDatabase(ctx).Status == "unhealthy" {
		return c.Status(fiber.StatusServiceUnavailable).SendString("NOT READY")
	}
	return c.SendString("READY")
}
