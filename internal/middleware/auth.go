package middleware

import (
	"strings"
	"toefl_assess_backend/internal/config"
	"toefl_assess_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware 解析Bearer令牌并把Claims放入上下文。
// 未认证统一返回 {"detail": "Authentication required"}
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		}

		if tokenString == "" {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			util.AuthRequired(c)
			c.Abort()
			return
		}

		claims, err := util.ParseJWT(tokenString, cfg.JWT.Secret)
		if err != nil {
			util.AuthRequired(c)
			c.Abort()
			return
		}

		c.Set("user", claims)
		c.Next()
	}
}
