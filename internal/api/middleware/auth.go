package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/d60-Lab/localsync/pkg/response"
)

const userIDKey = "user_id"

var errMissingSubject = errors.New("token has no subject")

// JWTAuth 校验 Bearer token（HS256），subject 即用户 ID
func JWTAuth(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			response.Unauthorized(c, "missing bearer token")
			return
		}
		userID, err := parseSubject(raw, key)
		if err != nil {
			response.Unauthorized(c, "invalid token")
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func parseSubject(raw string, key []byte) (string, error) {
	token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", errMissingSubject
	}
	return sub, nil
}

// IssueToken 签发 HS256 token，测试和本地调试用
func IssueToken(secret, userID string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: userID}).SignedString([]byte(secret))
}

// UserID 当前请求的用户
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
