package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rcaflow/internal/audit"
	"rcaflow/internal/auth"
	"rcaflow/internal/common"
	"rcaflow/internal/logger"
	"rcaflow/internal/metrics"
	"rcaflow/internal/workflow"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CompletionNotifier 终结通知接口，由 notification 包实现
type CompletionNotifier interface {
	// NotifyDecision 审批决定后立即通知
	NotifyDecision(ctx context.Context, wf *workflow.Workflow, ap *workflow.Approval)
	// NotifyCompletion 工作流终结通知
	NotifyCompletion(ctx context.Context, wf *workflow.Workflow)
	// CancelPending 撤销该工作流所有待投递通知
	CancelPending(ctx context.Context, workflowID string) error
}

// Gate 审批闸门
// 决审的并发安全依赖受条件保护的 UPDATE，不持应用层锁
type Gate struct {
	db       *gorm.DB
	notifier CompletionNotifier
	recorder *audit.Recorder
	now      func() time.Time
}

// GateOption Gate 可选配置
type GateOption func(*Gate)

// WithNotifier 注入终结通知实现
func WithNotifier(notifier CompletionNotifier) GateOption {
	return func(g *Gate) { g.notifier = notifier }
}

// WithRecorder 注入审计记录器
func WithRecorder(recorder *audit.Recorder) GateOption {
	return func(g *Gate) { g.recorder = recorder }
}

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// NewGate 创建审批闸门
func NewGate(db *gorm.DB, opts ...GateOption) *Gate {
	g := &Gate{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// DecideRequest 审批决定请求
type DecideRequest struct {
	Decision string `json:"decision" binding:"required"` // approved 或 rejected
	Comment  string `json:"comment"`
}

// DecideResult 审批决定结果
type DecideResult struct {
	Approval       *workflow.Approval `json:"approval"`
	WorkflowStatus string             `json:"workflowStatus"`
}

// Decide 提交审批决定
// 同一审批只接受一次决定；任一拒绝立即终结工作流，其余审批保持 pending；
// 全部决审且无拒绝时工作流关闭。终结副作用由受保护的状态迁移保证只执行一次
func (g *Gate) Decide(ctx context.Context, workflowID, approvalID string, req *DecideRequest, actor *auth.Actor) (*DecideResult, error) {
	if req.Decision != workflow.DecisionApproved && req.Decision != workflow.DecisionRejected {
		return nil, common.NewBusinessError(common.CodeInvalidRequest,
			fmt.Sprintf("无效的审批决定: %s", req.Decision))
	}

	var wf workflow.Workflow
	if err := g.db.WithContext(ctx).Where("id = ?", workflowID).First(&wf).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewBusinessErrorWithCode(common.CodeWorkflowNotFound)
		}
		return nil, fmt.Errorf("查询工作流失败: %w", err)
	}
	if wf.IsTerminal() {
		return nil, common.NewBusinessErrorWithCode(common.CodeWorkflowNotActive)
	}

	var ap workflow.Approval
	err := g.db.WithContext(ctx).
		Where("id = ? AND workflow_id = ?", approvalID, workflowID).
		First(&ap).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewBusinessErrorWithCode(common.CodeApprovalNotFound)
		}
		return nil, fmt.Errorf("查询审批记录失败: %w", err)
	}

	// 管理员可代任何人决审，其他人只能处理分配给自己的审批
	if !actor.IsAdmin() && !actor.SameEmail(ap.ApproverEmail) {
		return nil, common.NewBusinessErrorWithCode(common.CodeNotYourApproval)
	}

	decidedAt := g.now()

	// 条件保护的更新：只有仍处于 pending 的记录才会被写入决定
	result := g.db.WithContext(ctx).
		Model(&workflow.Approval{}).
		Where("id = ? AND decision = ?", approvalID, workflow.DecisionPending).
		Updates(map[string]any{
			"decision":   req.Decision,
			"decided_at": decidedAt,
			"comment":    req.Comment,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("写入审批决定失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, common.NewBusinessErrorWithCode(common.CodeApprovalDecided)
	}

	ap.Decision = req.Decision
	ap.DecidedAt = &decidedAt
	ap.Comment = req.Comment

	metrics.ApprovalDecisionsTotal.WithLabelValues(req.Decision).Inc()
	metrics.ApprovalDecisionLatency.Observe(decidedAt.Sub(wf.CreatedAt).Seconds())

	if g.recorder != nil {
		event := audit.EventApprovalApprove
		if req.Decision == workflow.DecisionRejected {
			event = audit.EventApprovalReject
		}
		g.recorder.Record(ctx, actor.UserID, actor.Email, event, "workflow", workflowID, map[string]any{
			"approval_id":    approvalID,
			"approver_email": ap.ApproverEmail,
			"comment":        req.Comment,
		})
	}

	status, err := g.reevaluate(ctx, &wf, req.Decision, actor)
	if err != nil {
		return nil, err
	}

	if g.notifier != nil {
		g.notifier.NotifyDecision(ctx, &wf, &ap)
	}

	return &DecideResult{Approval: &ap, WorkflowStatus: status}, nil
}

// reevaluate 决定写入后重新评估工作流状态
func (g *Gate) reevaluate(ctx context.Context, wf *workflow.Workflow, decision string, actor *auth.Actor) (string, error) {
	target := ""
	if decision == workflow.DecisionRejected {
		// 一票否决，其余审批保持 pending
		target = workflow.StatusRejected
	} else {
		var pending int64
		err := g.db.WithContext(ctx).
			Model(&workflow.Approval{}).
			Where("workflow_id = ? AND decision = ?", wf.ID, workflow.DecisionPending).
			Count(&pending).Error
		if err != nil {
			return "", fmt.Errorf("统计待决审批失败: %w", err)
		}
		if pending == 0 {
			target = workflow.StatusClosed
		}
	}

	if target == "" {
		return workflow.StatusActive, nil
	}

	// 条件保护的状态迁移，保证终结副作用只执行一次
	result := g.db.WithContext(ctx).
		Model(&workflow.Workflow{}).
		Where("id = ? AND status = ?", wf.ID, workflow.StatusActive).
		Update("status", target)
	if result.Error != nil {
		return "", fmt.Errorf("更新工作流状态失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// 并发方已经完成迁移
		var current workflow.Workflow
		if err := g.db.WithContext(ctx).Select("status").Where("id = ?", wf.ID).First(&current).Error; err != nil {
			return "", fmt.Errorf("查询工作流状态失败: %w", err)
		}
		return current.Status, nil
	}

	wf.Status = target
	g.runCompletionSideEffects(ctx, wf, actor)
	return target, nil
}

// runCompletionSideEffects 终结后的副作用：撤通知、发终结通知、记审计
func (g *Gate) runCompletionSideEffects(ctx context.Context, wf *workflow.Workflow, actor *auth.Actor) {
	if g.notifier != nil {
		if err := g.notifier.CancelPending(ctx, wf.ID); err != nil {
			logger.WithContext(ctx).Warn("撤销待投递通知失败",
				zap.String("workflow_id", wf.ID),
				zap.Error(err),
			)
		}
		g.notifier.NotifyCompletion(ctx, wf)
	}

	if g.recorder != nil {
		event := audit.EventWorkflowClose
		if wf.Status == workflow.StatusRejected {
			event = audit.EventWorkflowReject
		}
		g.recorder.Record(ctx, actor.UserID, actor.Email, event, "workflow", wf.ID, nil)
	}

	metrics.WorkflowsCompletedTotal.WithLabelValues(wf.Status).Inc()
	metrics.WorkflowsActive.Dec()

	logger.WithContext(ctx).Info("工作流已终结",
		zap.String("workflow_id", wf.ID),
		zap.String("status", wf.Status),
	)
}

// ListForWorkflow 查询工作流的全部审批记录
func (g *Gate) ListForWorkflow(ctx context.Context, workflowID string) ([]workflow.Approval, error) {
	var exists int64
	if err := g.db.WithContext(ctx).
		Model(&workflow.Workflow{}).
		Where("id = ?", workflowID).
		Count(&exists).Error; err != nil {
		return nil, fmt.Errorf("查询工作流失败: %w", err)
	}
	if exists == 0 {
		return nil, common.NewBusinessErrorWithCode(common.CodeWorkflowNotFound)
	}

	var approvals []workflow.Approval
	err := g.db.WithContext(ctx).
		Scopes(common.ByWorkflow(workflowID)).
		Order("created_at ASC").
		Find(&approvals).Error
	if err != nil {
		return nil, fmt.Errorf("查询审批记录失败: %w", err)
	}
	return approvals, nil
}

// PendingForApprover 查询指定审批人的全部待决审批（仅限活跃工作流）
func (g *Gate) PendingForApprover(ctx context.Context, email string) ([]workflow.Approval, error) {
	var approvals []workflow.Approval
	err := g.db.WithContext(ctx).
		Scopes(common.PendingOnly()).
		Joins("JOIN workflows ON workflows.id = approvals.workflow_id").
		Where("LOWER(approvals.approver_email) = LOWER(?)", email).
		Where("workflows.status = ?", workflow.StatusActive).
		Order("approvals.created_at ASC").
		Find(&approvals).Error
	if err != nil {
		return nil, fmt.Errorf("查询待决审批失败: %w", err)
	}
	return approvals, nil
}
