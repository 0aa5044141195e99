package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rcaflow/internal/audit"
	"rcaflow/internal/common"
	"rcaflow/internal/logger"
	"rcaflow/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// IncidentGate 事故协作接口，由 incident 包实现
type IncidentGate interface {
	// EnsureOpen 校验事故存在且未终结
	EnsureOpen(ctx context.Context, incidentID string) error
	// MarkInvestigating 事故挂接工作流后置为调查中
	MarkInvestigating(ctx context.Context, incidentID string) error
}

// NotificationToggles 发起请求中的通知开关
// Notifications 管发起与干系人指派通知，MilestoneReminders 管里程碑与临期提醒
type NotificationToggles struct {
	Notifications      bool
	MilestoneReminders bool
}

// ReminderScheduler 通知排期接口，由 notification 包实现
type ReminderScheduler interface {
	// ScheduleInitiation 发起时按开关排期通知（立即通知 + 里程碑提醒），返回排期条数
	ScheduleInitiation(ctx context.Context, wf *Workflow, stakeholders []Stakeholder, toggles NotificationToggles) int
	// NotifyStakeholderAssigned 为新指派的干系人发送通知
	NotifyStakeholderAssigned(ctx context.Context, wf *Workflow, st *Stakeholder)
}

// WorkflowService 工作流生命周期管理服务
type WorkflowService struct {
	*common.BaseService

	incidents       IncidentGate
	scheduler       ReminderScheduler
	recorder        *audit.Recorder
	slaDefaultHours int
	now             func() time.Time
}

// Option WorkflowService 可选配置
type Option func(*WorkflowService)

// WithIncidentGate 注入事故协作实现
func WithIncidentGate(gate IncidentGate) Option {
	return func(s *WorkflowService) { s.incidents = gate }
}

// WithScheduler 注入通知排期实现
func WithScheduler(scheduler ReminderScheduler) Option {
	return func(s *WorkflowService) { s.scheduler = scheduler }
}

// WithRecorder 注入审计记录器
func WithRecorder(recorder *audit.Recorder) Option {
	return func(s *WorkflowService) { s.recorder = recorder }
}

// WithSLADefaultHours 设置兜底 SLA 时限
func WithSLADefaultHours(hours int) Option {
	return func(s *WorkflowService) { s.slaDefaultHours = hours }
}

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(s *WorkflowService) { s.now = now }
}

// NewWorkflowService 创建 WorkflowService 实例
func NewWorkflowService(db *gorm.DB, opts ...Option) *WorkflowService {
	s := &WorkflowService{
		BaseService:     common.NewBaseService(db),
		slaDefaultHours: 24,
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StakeholderInput 干系人入参
// IsApprover 省略时按角色名自动判定
type StakeholderInput struct {
	Name       string `json:"name" binding:"required"`
	Role       string `json:"role" binding:"required"`
	Email      string `json:"email" binding:"required"`
	IsApprover *bool  `json:"isApprover,omitempty"`
}

// InitiateRequest 发起工作流请求
// 通知开关省略时视为开启
type InitiateRequest struct {
	IncidentID               string             `json:"incidentId" binding:"required"`
	Type                     string             `json:"type" binding:"required"`
	DocumentationLevel       string             `json:"documentationLevel" binding:"required"`
	AnalysisDepth            string             `json:"analysisDepth" binding:"required"`
	Priority                 string             `json:"priority" binding:"required"`
	ApprovalRequired         bool               `json:"approvalRequired"`
	Stakeholders             []StakeholderInput `json:"stakeholders" binding:"required"`
	EnableNotifications      *bool              `json:"enableNotifications,omitempty"`
	EnableMilestoneReminders *bool              `json:"enableMilestoneReminders,omitempty"`
}

// Toggles 解析请求中的通知开关
func (r *InitiateRequest) Toggles() NotificationToggles {
	return NotificationToggles{
		Notifications:      r.EnableNotifications == nil || *r.EnableNotifications,
		MilestoneReminders: r.EnableMilestoneReminders == nil || *r.EnableMilestoneReminders,
	}
}

// InitiateResult 发起工作流结果
type InitiateResult struct {
	Workflow               *Workflow `json:"workflow"`
	NotificationsScheduled int       `json:"notificationsScheduled"`
}

// Initiate 发起根因分析工作流
// 截止时间由 SLA 规则在此处一次性确定
func (s *WorkflowService) Initiate(ctx context.Context, req *InitiateRequest, createdBy string) (*InitiateResult, error) {
	if err := validatePriority(req.Priority); err != nil {
		return nil, err
	}
	if len(req.Stakeholders) == 0 {
		return nil, common.NewBusinessError(common.CodeStakeholderInvalid, "至少需要一名干系人")
	}

	stakeholders, err := buildStakeholders(req.Stakeholders)
	if err != nil {
		return nil, err
	}

	approverEmails := approverEmailSet(stakeholders)
	if req.ApprovalRequired && len(approverEmails) == 0 {
		return nil, common.NewBusinessErrorWithCode(common.CodeApproverRequired)
	}

	// 事故必须存在且未终结
	if s.incidents != nil {
		if err := s.incidents.EnsureOpen(ctx, req.IncidentID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	wf := &Workflow{
		ID:                 uuid.NewString(),
		IncidentID:         req.IncidentID,
		Type:               req.Type,
		DocumentationLevel: req.DocumentationLevel,
		AnalysisDepth:      req.AnalysisDepth,
		Priority:           req.Priority,
		ApprovalRequired:   req.ApprovalRequired,
		DueAt:              ComputeDueAt(now, req.Type, s.slaDefaultHours),
		Status:             StatusActive,
		CreatedBy:          createdBy,
	}

	err = s.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(wf).Error; err != nil {
			return fmt.Errorf("创建工作流失败: %w", err)
		}

		for i := range stakeholders {
			stakeholders[i].WorkflowID = wf.ID
		}
		if err := tx.Create(&stakeholders).Error; err != nil {
			return fmt.Errorf("创建干系人失败: %w", err)
		}

		if req.ApprovalRequired {
			approvals := buildPendingApprovals(wf.ID, approverEmails)
			if err := tx.Create(&approvals).Error; err != nil {
				return fmt.Errorf("创建审批记录失败: %w", err)
			}
			wf.Approvals = approvals
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	wf.Stakeholders = stakeholders

	// 事故状态推进失败不回滚工作流，只记日志
	if s.incidents != nil {
		if err := s.incidents.MarkInvestigating(ctx, req.IncidentID); err != nil {
			logger.WithContext(ctx).Warn("事故状态推进失败",
				zap.String("incident_id", req.IncidentID),
				zap.Error(err),
			)
		}
	}

	scheduled := 0
	if s.scheduler != nil {
		scheduled = s.scheduler.ScheduleInitiation(ctx, wf, stakeholders, req.Toggles())
	}

	if s.recorder != nil {
		s.recorder.Record(ctx, createdBy, "", audit.EventWorkflowInitiate, "workflow", wf.ID, map[string]any{
			"incident_id": wf.IncidentID,
			"type":        wf.Type,
			"priority":    wf.Priority,
			"due_at":      wf.DueAt,
		})
	}

	metrics.WorkflowsInitiatedTotal.WithLabelValues(wf.Type, wf.Priority).Inc()
	metrics.WorkflowsActive.Inc()

	logger.WithContext(ctx).Info("工作流已发起",
		zap.String("workflow_id", wf.ID),
		zap.String("incident_id", wf.IncidentID),
		zap.Time("due_at", wf.DueAt),
		zap.Int("notifications_scheduled", scheduled),
	)

	return &InitiateResult{Workflow: wf, NotificationsScheduled: scheduled}, nil
}

// GetWorkflow 查询单个工作流（含干系人与审批记录）
func (s *WorkflowService) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	var wf Workflow
	err := s.GetDBWithContext(ctx).
		Preload("Stakeholders").
		Preload("Approvals").
		Where("id = ?", id).
		First(&wf).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewBusinessErrorWithCode(common.CodeWorkflowNotFound)
		}
		return nil, fmt.Errorf("查询工作流失败: %w", err)
	}
	return &wf, nil
}

// ListWorkflowsRequest 查询工作流列表请求
type ListWorkflowsRequest struct {
	common.PaginationRequest
	Status     string `json:"status" form:"status"`
	Priority   string `json:"priority" form:"priority"`
	IncidentID string `json:"incident_id" form:"incident_id"`
}

// ListWorkflowsResponse 查询工作流列表响应
type ListWorkflowsResponse struct {
	Workflows []*Workflow `json:"workflows"`
	Total     int64       `json:"total"`
	Page      int         `json:"page"`
	PageSize  int         `json:"page_size"`
}

// ListWorkflows 查询工作流列表
func (s *WorkflowService) ListWorkflows(ctx context.Context, req *ListWorkflowsRequest) (*ListWorkflowsResponse, error) {
	query := s.GetDBWithContext(ctx).Model(&Workflow{})
	query = s.ApplyStatusFilter(query, req.Status)
	query = s.ApplyFieldFilter(query, "priority", req.Priority)
	query = s.ApplyFieldFilter(query, "incident_id", req.IncidentID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("统计工作流数量失败: %w", err)
	}

	var workflows []*Workflow
	err := s.ApplyPaginationRequest(query.Order("created_at DESC"), req.PaginationRequest).
		Find(&workflows).Error
	if err != nil {
		return nil, fmt.Errorf("查询工作流列表失败: %w", err)
	}

	page := req.Page
	if page < 1 {
		page = 1
	}

	return &ListWorkflowsResponse{
		Workflows: workflows,
		Total:     total,
		Page:      page,
		PageSize:  req.GetPageSize(),
	}, nil
}

// ReplaceStakeholders 整体替换工作流干系人
// 同一事务内同步审批记录：新增审批人补建 pending 审批，
// 移除审批人撤掉尚未决审的记录，已决审的保留
func (s *WorkflowService) ReplaceStakeholders(ctx context.Context, workflowID string, inputs []StakeholderInput, actorID string) (*Workflow, error) {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.IsTerminal() {
		return nil, common.NewBusinessErrorWithCode(common.CodeWorkflowNotActive)
	}

	if len(inputs) == 0 {
		return nil, common.NewBusinessError(common.CodeStakeholderInvalid, "至少需要一名干系人")
	}
	stakeholders, err := buildStakeholders(inputs)
	if err != nil {
		return nil, err
	}

	approverEmails := approverEmailSet(stakeholders)
	if wf.ApprovalRequired && len(approverEmails) == 0 {
		return nil, common.NewBusinessErrorWithCode(common.CodeApproverRequired)
	}

	var added []Stakeholder
	err = s.Transaction(ctx, func(tx *gorm.DB) error {
		previous := map[string]bool{}
		for _, st := range wf.Stakeholders {
			previous[strings.ToLower(st.Email)] = true
		}

		if err := tx.Where("workflow_id = ?", workflowID).Delete(&Stakeholder{}).Error; err != nil {
			return fmt.Errorf("清除原干系人失败: %w", err)
		}
		for i := range stakeholders {
			stakeholders[i].WorkflowID = workflowID
			if !previous[strings.ToLower(stakeholders[i].Email)] {
				added = append(added, stakeholders[i])
			}
		}
		if err := tx.Create(&stakeholders).Error; err != nil {
			return fmt.Errorf("写入新干系人失败: %w", err)
		}

		if wf.ApprovalRequired {
			// 撤掉不再担任审批人的 pending 记录
			if err := tx.Where("workflow_id = ? AND decision = ? AND LOWER(approver_email) NOT IN ?",
				workflowID, DecisionPending, approverEmails).
				Delete(&Approval{}).Error; err != nil {
				return fmt.Errorf("清理审批记录失败: %w", err)
			}

			// 为新增审批人补建 pending 审批
			existing := map[string]bool{}
			var current []Approval
			if err := tx.Where("workflow_id = ?", workflowID).Find(&current).Error; err != nil {
				return fmt.Errorf("查询审批记录失败: %w", err)
			}
			for _, ap := range current {
				existing[strings.ToLower(ap.ApproverEmail)] = true
			}

			var missing []string
			for _, email := range approverEmails {
				if !existing[email] {
					missing = append(missing, email)
				}
			}
			if len(missing) > 0 {
				approvals := buildPendingApprovals(workflowID, missing)
				if err := tx.Create(&approvals).Error; err != nil {
					return fmt.Errorf("补建审批记录失败: %w", err)
				}
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	// 新加入的干系人收到指派通知
	if s.scheduler != nil {
		for i := range added {
			s.scheduler.NotifyStakeholderAssigned(ctx, wf, &added[i])
		}
	}

	if s.recorder != nil {
		s.recorder.Record(ctx, actorID, "", audit.EventStakeholderReplace, "workflow", workflowID, map[string]any{
			"stakeholder_count": len(stakeholders),
			"approver_count":    len(approverEmails),
		})
	}

	return s.GetWorkflow(ctx, workflowID)
}

// validatePriority 校验优先级取值
func validatePriority(priority string) error {
	switch priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return nil
	}
	return common.NewBusinessError(common.CodeInvalidRequest,
		fmt.Sprintf("无效的优先级: %s", priority))
}

// buildStakeholders 校验入参并构建干系人模型，审批身份在此一次性判定
func buildStakeholders(inputs []StakeholderInput) ([]Stakeholder, error) {
	seen := map[string]bool{}
	stakeholders := make([]Stakeholder, 0, len(inputs))

	for _, in := range inputs {
		if in.Name == "" || in.Role == "" {
			return nil, common.NewBusinessError(common.CodeStakeholderInvalid, "干系人姓名和角色不能为空")
		}
		if !strings.Contains(in.Email, "@") {
			return nil, common.NewBusinessError(common.CodeStakeholderInvalid,
				fmt.Sprintf("干系人邮箱无效: %s", in.Email))
		}

		key := strings.ToLower(in.Email)
		if seen[key] {
			return nil, common.NewBusinessError(common.CodeStakeholderInvalid,
				fmt.Sprintf("干系人邮箱重复: %s", in.Email))
		}
		seen[key] = true

		isApprover := ClassifyApprover(in.Role)
		if in.IsApprover != nil {
			isApprover = *in.IsApprover
		}

		stakeholders = append(stakeholders, Stakeholder{
			ID:         uuid.NewString(),
			Name:       in.Name,
			Role:       in.Role,
			Email:      in.Email,
			IsApprover: isApprover,
		})
	}

	return stakeholders, nil
}

// approverEmailSet 提取审批人邮箱（小写去重，保持出现顺序）
func approverEmailSet(stakeholders []Stakeholder) []string {
	seen := map[string]bool{}
	var emails []string
	for _, st := range stakeholders {
		if !st.IsApprover {
			continue
		}
		key := strings.ToLower(st.Email)
		if !seen[key] {
			seen[key] = true
			emails = append(emails, key)
		}
	}
	return emails
}

// buildPendingApprovals 为审批人构建 pending 审批记录
func buildPendingApprovals(workflowID string, approverEmails []string) []Approval {
	approvals := make([]Approval, 0, len(approverEmails))
	for _, email := range approverEmails {
		approvals = append(approvals, Approval{
			ID:            uuid.NewString(),
			WorkflowID:    workflowID,
			ApproverEmail: email,
			Decision:      DecisionPending,
		})
	}
	return approvals
}
