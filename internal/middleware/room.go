package middleware

import (
	"github.com/gofiber/fiber/v2"

	"collab-backend/internal/auth"
	"collab-backend/internal/event"
)

// LocalsRoomID 컨텍스트 키
const LocalsRoomID = "roomID"

// RequireRoom 인증된 사용자 + 올바른 룸 ID 필수
//
// auth.AuthMiddleware 뒤에 둔다.
func RequireRoom() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := auth.ClaimsFrom(c); !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		roomID := c.Params("roomId")
		if !event.ValidRoomID(roomID) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid room ID",
			})
		}

		c.Locals(LocalsRoomID, roomID)
		return c.Next()
	}
}
