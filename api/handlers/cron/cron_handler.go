package cron

import (
	"rcaflow/internal/audit"
	"rcaflow/internal/common"
	"rcaflow/internal/poller"

	"github.com/gin-gonic/gin"
)

// CronHandler 对账触发 Handler，供外部调度器兜底调用
type CronHandler struct {
	poller   *poller.Poller
	recorder *audit.Recorder
}

// NewCronHandler 创建 CronHandler 实例
func NewCronHandler(p *poller.Poller, recorder *audit.Recorder) *CronHandler {
	return &CronHandler{poller: p, recorder: recorder}
}

// ProcessReminders 手动触发一轮提醒对账
// @Summary 触发一轮提醒对账
// @Description 扫描全部活跃工作流并补发到期未发的提醒，幂等可重复调用
// @Tags Internal
// @Produce json
// @Success 200 {object} poller.RunResult
// @Failure 403 {object} common.APIResponse
// @Router /api/internal/cron/process-reminders [post]
func (h *CronHandler) ProcessReminders(c *gin.Context) {
	result := h.poller.RunOnce(c.Request.Context())
	if h.recorder != nil {
		h.recorder.Record(c.Request.Context(), "cron", "", audit.EventCronProcess, "poller", "", result)
	}
	common.ResponseSuccess(c, result)
}

// SLAStats 查询 SLA 态势概况
// @Summary 查询 SLA 态势概况
// @Tags Internal
// @Produce json
// @Success 200 {object} poller.Stats
// @Failure 403 {object} common.APIResponse
// @Router /api/internal/cron/stats [get]
func (h *CronHandler) SLAStats(c *gin.Context) {
	stats, err := h.poller.CollectStats(c.Request.Context())
	if err != nil {
		common.ResponseServerError(c, err.Error())
		return
	}
	common.ResponseSuccess(c, stats)
}
