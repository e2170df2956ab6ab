package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// LocalsClaims 컨텍스트 키
const LocalsClaims = "claims"

// tokenFrom Authorization 헤더 → 쿠키 → 쿼리(token) 순서로 토큰 추출
// 브라우저 웹소켓은 헤더를 못 붙이므로 쿼리도 허용한다.
func tokenFrom(c *fiber.Ctx) (string, error) {
	if h := c.Get("Authorization"); h != "" {
		parts := strings.Split(h, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return "", errors.New("invalid authorization header format")
		}
		return parts[1], nil
	}
	if t := c.Cookies("access_token"); t != "" {
		return t, nil
	}
	if t := c.Query("token"); t != "" {
		return t, nil
	}
	return "", errors.New("missing authorization token")
}

// AuthMiddleware JWT 인증 미들웨어
func AuthMiddleware(jwtManager *JWTManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := tokenFrom(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		// 토큰 검증
		claims, err := jwtManager.ValidateAccessToken(token)
		if err != nil {
			if errors.Is(err, ErrExpiredToken) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "token expired",
					"code":  "TOKEN_EXPIRED",
				})
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token",
			})
		}

		// 사용자 정보를 컨텍스트에 저장
		c.Locals(LocalsClaims, claims)
		return c.Next()
	}
}

// ClaimsFrom returns the claims stored by AuthMiddleware.
func ClaimsFrom(c *fiber.Ctx) (*Claims, bool) {
	claims, ok := c.Locals(LocalsClaims).(*Claims)
	return claims, ok
}
