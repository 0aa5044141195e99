package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ContextKey 上下文键类型
type ContextKey string

// ActorContextKey 操作者上下文键
const ActorContextKey ContextKey = "actor"

// AuthMiddleware JWT 认证中间件
func AuthMiddleware(jwtService *JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 从 Header 获取令牌
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "缺少认证令牌",
			})
			c.Abort()
			return
		}

		// 提取纯令牌
		token := ExtractTokenFromBearer(authHeader)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "无效的令牌格式",
			})
			c.Abort()
			return
		}

		// 验证令牌
		claims, err := jwtService.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "令牌验证失败: " + err.Error(),
			})
			c.Abort()
			return
		}

		// 将操作者信息存入上下文
		c.Set(string(ActorContextKey), &Actor{
			UserID: claims.UserID,
			Email:  claims.Email,
			Roles:  claims.Roles,
		})
		c.Set("user_id", claims.UserID)

		c.Next()
	}
}

// RequireRole 角色检查中间件，命中任一角色即放行，admin 永远放行
func RequireRole(requiredRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, exists := GetActor(c)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "未认证",
			})
			c.Abort()
			return
		}

		if actor.IsAdmin() {
			c.Next()
			return
		}

		for _, role := range requiredRoles {
			if actor.HasRole(role) {
				c.Next()
				return
			}
		}

		c.JSON(http.StatusForbidden, gin.H{
			"error": "角色权限不足",
		})
		c.Abort()
	}
}

// GetActor 从 Gin Context 获取操作者
func GetActor(c *gin.Context) (*Actor, bool) {
	v, exists := c.Get(string(ActorContextKey))
	if !exists {
		return nil, false
	}

	actor, ok := v.(*Actor)
	return actor, ok
}
