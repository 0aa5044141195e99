package workflows

import (
	"rcaflow/internal/auth"
	"rcaflow/internal/common"
	"rcaflow/internal/workflow/approval"

	"github.com/gin-gonic/gin"
)

// ApprovalHandler 审批 Handler
type ApprovalHandler struct {
	gate *approval.Gate
}

// NewApprovalHandler 创建 ApprovalHandler 实例
func NewApprovalHandler(gate *approval.Gate) *ApprovalHandler {
	return &ApprovalHandler{gate: gate}
}

// Decide 提交审批决定
// @Summary 提交审批决定
// @Description 任一审批人拒绝即终结工作流，全部通过则关闭工作流
// @Tags Approvals
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "工作流 ID"
// @Param approvalId path string true "审批记录 ID"
// @Param request body approval.DecideRequest true "审批决定"
// @Success 200 {object} approval.DecideResult
// @Failure 403 {object} common.APIResponse
// @Failure 409 {object} common.APIResponse
// @Router /api/workflows/{id}/approvals/{approvalId}/decision [post]
func (h *ApprovalHandler) Decide(c *gin.Context) {
	actor, ok := auth.GetActor(c)
	if !ok {
		common.ResponseUnauthorized(c, "")
		return
	}

	var req approval.DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	result, err := h.gate.Decide(c.Request.Context(), c.Param("id"), c.Param("approvalId"), &req, actor)
	if err != nil {
		respondError(c, err)
		return
	}

	common.ResponseSuccess(c, result)
}

// ListApprovals 查询工作流的审批记录
// @Summary 查询工作流审批记录
// @Tags Approvals
// @Security BearerAuth
// @Produce json
// @Param id path string true "工作流 ID"
// @Success 200 {array} workflow.Approval
// @Failure 404 {object} common.APIResponse
// @Router /api/workflows/{id}/approvals [get]
func (h *ApprovalHandler) ListApprovals(c *gin.Context) {
	approvals, err := h.gate.ListForWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	common.ResponseSuccess(c, gin.H{"approvals": approvals, "total": len(approvals)})
}

// PendingForMe 查询当前用户待审批列表
// @Summary 查询我的待审批列表
// @Tags Approvals
// @Security BearerAuth
// @Produce json
// @Success 200 {array} workflow.Approval
// @Router /api/approvals/pending [get]
func (h *ApprovalHandler) PendingForMe(c *gin.Context) {
	actor, ok := auth.GetActor(c)
	if !ok {
		common.ResponseUnauthorized(c, "")
		return
	}

	approvals, err := h.gate.PendingForApprover(c.Request.Context(), actor.Email)
	if err != nil {
		respondError(c, err)
		return
	}

	common.ResponseSuccess(c, gin.H{"approvals": approvals, "total": len(approvals)})
}
