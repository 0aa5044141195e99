package workflows

import (
	"errors"
	"strconv"

	"rcaflow/internal/audit"
	"rcaflow/internal/auth"
	"rcaflow/internal/common"
	"rcaflow/internal/notification"
	"rcaflow/internal/workflow"

	"github.com/gin-gonic/gin"
)

// WorkflowHandler 工作流管理 Handler
type WorkflowHandler struct {
	service   *workflow.WorkflowService
	scheduler *notification.Scheduler
	recorder  *audit.Recorder
}

// NewWorkflowHandler 创建 WorkflowHandler 实例
func NewWorkflowHandler(service *workflow.WorkflowService, scheduler *notification.Scheduler, recorder *audit.Recorder) *WorkflowHandler {
	return &WorkflowHandler{
		service:   service,
		scheduler: scheduler,
		recorder:  recorder,
	}
}

// Initiate 发起根因分析工作流
// @Summary 发起根因分析工作流
// @Description 校验事故与干系人后创建工作流，按 SLA 规则计算截止时间并排期通知
// @Tags Workflows
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body workflow.InitiateRequest true "工作流发起参数"
// @Success 201 {object} workflow.InitiateResult
// @Failure 400 {object} common.APIResponse
// @Failure 409 {object} common.APIResponse
// @Router /api/workflows [post]
func (h *WorkflowHandler) Initiate(c *gin.Context) {
	actor, ok := auth.GetActor(c)
	if !ok {
		common.ResponseUnauthorized(c, "")
		return
	}

	var req workflow.InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	result, err := h.service.Initiate(c.Request.Context(), &req, actor.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	common.ResponseCreated(c, result)
}

// GetWorkflow 查询工作流详情
// @Summary 查询工作流详情
// @Description 返回工作流及其干系人与审批记录
// @Tags Workflows
// @Security BearerAuth
// @Produce json
// @Param id path string true "工作流 ID"
// @Success 200 {object} workflow.Workflow
// @Failure 404 {object} common.APIResponse
// @Router /api/workflows/{id} [get]
func (h *WorkflowHandler) GetWorkflow(c *gin.Context) {
	wf, err := h.service.GetWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	common.ResponseSuccess(c, wf)
}

// ListWorkflows 查询工作流列表
// @Summary 查询工作流列表
// @Tags Workflows
// @Security BearerAuth
// @Produce json
// @Param status query string false "状态筛选"
// @Param priority query string false "优先级筛选"
// @Param incident_id query string false "事故 ID 筛选"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} workflow.ListWorkflowsResponse
// @Failure 500 {object} common.APIResponse
// @Router /api/workflows [get]
func (h *WorkflowHandler) ListWorkflows(c *gin.Context) {
	var req workflow.ListWorkflowsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	resp, err := h.service.ListWorkflows(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	common.ResponseSuccess(c, resp)
}

// replaceStakeholdersRequest 替换干系人请求体
type replaceStakeholdersRequest struct {
	Stakeholders []workflow.StakeholderInput `json:"stakeholders" binding:"required"`
}

// ReplaceStakeholders 整体替换工作流干系人
// @Summary 替换工作流干系人
// @Description 同一事务内同步审批记录，新增干系人会收到指派通知
// @Tags Workflows
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "工作流 ID"
// @Param request body replaceStakeholdersRequest true "新干系人列表"
// @Success 200 {object} workflow.Workflow
// @Failure 400 {object} common.APIResponse
// @Failure 409 {object} common.APIResponse
// @Router /api/workflows/{id}/stakeholders [put]
func (h *WorkflowHandler) ReplaceStakeholders(c *gin.Context) {
	actor, ok := auth.GetActor(c)
	if !ok {
		common.ResponseUnauthorized(c, "")
		return
	}

	var req replaceStakeholdersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	wf, err := h.service.ReplaceStakeholders(c.Request.Context(), c.Param("id"), req.Stakeholders, actor.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	common.ResponseSuccess(c, wf)
}

// ListNotifications 查询工作流的通知记录
// @Summary 查询工作流通知记录
// @Tags Workflows
// @Security BearerAuth
// @Produce json
// @Param id path string true "工作流 ID"
// @Success 200 {array} notification.NotificationJob
// @Failure 404 {object} common.APIResponse
// @Router /api/workflows/{id}/notifications [get]
func (h *WorkflowHandler) ListNotifications(c *gin.Context) {
	workflowID := c.Param("id")

	// 先确认工作流存在
	if _, err := h.service.GetWorkflow(c.Request.Context(), workflowID); err != nil {
		respondError(c, err)
		return
	}

	jobs, err := h.scheduler.ListForWorkflow(c.Request.Context(), workflowID)
	if err != nil {
		respondError(c, err)
		return
	}

	common.ResponseSuccess(c, gin.H{"notifications": jobs, "total": len(jobs)})
}

// GetAuditTrail 查询工作流审计轨迹
// @Summary 查询工作流审计轨迹
// @Tags Workflows
// @Security BearerAuth
// @Produce json
// @Param id path string true "工作流 ID"
// @Param limit query int false "返回条数上限"
// @Success 200 {array} audit.AuditLog
// @Failure 404 {object} common.APIResponse
// @Router /api/workflows/{id}/audit [get]
func (h *WorkflowHandler) GetAuditTrail(c *gin.Context) {
	workflowID := c.Param("id")

	if _, err := h.service.GetWorkflow(c.Request.Context(), workflowID); err != nil {
		respondError(c, err)
		return
	}

	limit := 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	logs, err := h.recorder.ListByResource(c.Request.Context(), "workflow", workflowID, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	common.ResponseSuccess(c, gin.H{"logs": logs, "total": len(logs)})
}

// respondError 业务错误走错误码映射，其余按 500 处理
func respondError(c *gin.Context, err error) {
	var biz *common.BusinessError
	if errors.As(err, &biz) {
		common.ResponseBusinessError(c, biz)
		return
	}
	common.ResponseServerError(c, err.Error())
}
