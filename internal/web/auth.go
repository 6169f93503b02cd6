package web

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const (
	localUserID   = "user_id"
	localUserName = "user_name"
)

// Claims 访问令牌，sub 为用户 ID
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// SignToken 签发 HS256 令牌
func SignToken(secret, userID, name string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("未配置 jwt_secret")
	}
	now := time.Now()
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// parseToken 校验签名和有效期
func parseToken(secret, raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("不支持的签名算法: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("令牌无效")
	}
	return claims, nil
}

// Identity 解析调用者身份
//
// 配置了 jwt_secret 时要求 Authorization: Bearer <token>；
// 未配置时信任 X-User-ID / X-User-Name，只用于开发环境。
func Identity(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			userID := strings.TrimSpace(c.Get("X-User-ID"))
			if userID == "" {
				return fiber.NewError(fiber.StatusUnauthorized, "缺少 X-User-ID")
			}
			c.Locals(localUserID, userID)
			c.Locals(localUserName, c.Get("X-User-Name"))
			return c.Next()
		}

		header := c.Get(fiber.HeaderAuthorization)
		raw := strings.TrimPrefix(header, "Bearer ")
		if header == "" || raw == header {
			return fiber.NewError(fiber.StatusUnauthorized, "缺少访问令牌")
		}

		claims, err := parseToken(secret, raw)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "访问令牌无效")
		}
		c.Locals(localUserID, claims.Subject)
		c.Locals(localUserName, claims.Name)
		return c.Next()
	}
}

func callerID(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}

func callerName(c *fiber.Ctx) string {
	name, _ := c.Locals(localUserName).(string)
	return name
}
