package middleware

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const userIDKey = "user_id"

// JWTAuth проверяет bearer-токен внешнего сервиса авторизации (HS256).
// Идентификатор пользователя берётся из claim sub и кладётся в Locals.
func JWTAuth(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tok := extractToken(c)
		if tok == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing token")
		}

		parsed, err := jwt.Parse(tok, func(t *jwt.Token) (interface{}, error) { return secret, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		)
		if err != nil || !parsed.Valid {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}

		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
		}
		userID, err := subjectID(claims["sub"])
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid subject")
		}

		c.Locals(userIDKey, userID)
		return c.Next()
	}
}

// UserID идентификатор пользователя, установленный JWTAuth
func UserID(c *fiber.Ctx) (int64, bool) {
	id, ok := c.Locals(userIDKey).(int64)
	return id, ok
}

// SignToken выпускает токен для пользователя; нужен для CLI и тестов
func SignToken(userID int64, secret []byte, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": strconv.FormatInt(userID, 10),
		"exp": time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func extractToken(c *fiber.Ctx) string {
	h := c.Get(fiber.HeaderAuthorization)
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// subjectID sub бывает строкой или числом, в зависимости от выпускающей стороны
func subjectID(sub any) (int64, error) {
	switch v := sub.(type) {
	case string:
		return strconv.ParseInt(v, 10, 64)
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("non-integer subject %v", v)
		}
		return int64(v), nil
	default:
		return 0, fmt.Errorf("unexpected subject type %T", sub)
	}
}
