package api

import (
	"rcaflow/internal/auth"
	"rcaflow/internal/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册所有 API 路由
func RegisterRoutes(router *gin.Engine, container *AppContainer, handlers *Handlers) {
	// 写接口限流器，/api 与 /api/v1 共用一个实例
	writeLimiter := middleware.NewRateLimiter(nil)

	// 主 API 组
	api := router.Group("/api")
	registerAPIRoutes(api, container, handlers, writeLimiter)

	// 版本化 API 组
	apiV1 := router.Group("/api/v1")
	registerAPIRoutes(apiV1, container, handlers, writeLimiter)
}

// registerAPIRoutes 注册需要认证的 API 路由
func registerAPIRoutes(apiGroup *gin.RouterGroup, c *AppContainer, h *Handlers, writeLimiter *middleware.RateLimiter) {
	authed := apiGroup.Group("")
	authed.Use(auth.AuthMiddleware(c.JWTService))

	// 角色守卫与写限流
	analystGuard := auth.RequireRole(auth.RoleAnalyst)
	reporterGuard := auth.RequireRole(auth.RoleReporter, auth.RoleAnalyst)
	writeGuard := middleware.RateLimitMiddleware(writeLimiter)

	// 事故管理
	incidents := authed.Group("/incidents")
	{
		incidents.POST("", reporterGuard, writeGuard, h.Incident.CreateIncident)
		incidents.GET("/:id", h.Incident.GetIncident)
	}

	// 工作流管理
	workflows := authed.Group("/workflows")
	{
		workflows.POST("", analystGuard, writeGuard, h.Workflow.Initiate)
		workflows.GET("", h.Workflow.ListWorkflows)
		workflows.GET("/:id", h.Workflow.GetWorkflow)
		workflows.PUT("/:id/stakeholders", analystGuard, writeGuard, h.Workflow.ReplaceStakeholders)
		workflows.GET("/:id/notifications", h.Workflow.ListNotifications)
		workflows.GET("/:id/audit", h.Workflow.GetAuditTrail)

		// 审批
		workflows.GET("/:id/approvals", h.Approval.ListApprovals)
		workflows.POST("/:id/approvals/:approvalId/decision", writeGuard, h.Approval.Decide)
	}

	// 我的待审批
	authed.GET("/approvals/pending", h.Approval.PendingForMe)

	// 内部运维接口，走内部密钥而非用户 JWT
	internal := apiGroup.Group("/internal")
	internal.Use(InternalKey(c.Config.Internal.CronKey))
	{
		internal.POST("/cron/process-reminders", h.Cron.ProcessReminders)
		internal.GET("/cron/stats", h.Cron.SLAStats)
	}
}
