package workflow

import (
	"strings"
	"time"

	"rcaflow/internal/common"
)

// 工作流状态
const (
	StatusActive   = "active"   // 进行中
	StatusClosed   = "closed"   // 全部审批通过后关闭
	StatusRejected = "rejected" // 任一审批拒绝后终结
)

// 工作流优先级
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// 审批决定
const (
	DecisionPending  = "pending"
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// Workflow 根因分析工作流
// DueAt 在创建时由 SLA 规则一次性确定，之后不再改变
type Workflow struct {
	ID                 string    `json:"id" gorm:"primaryKey;size:36"`
	IncidentID         string    `json:"incidentId" gorm:"size:36;not null;index"`
	Type               string    `json:"type" gorm:"size:100;not null"`
	DocumentationLevel string    `json:"documentationLevel" gorm:"size:50;not null"`
	AnalysisDepth      string    `json:"analysisDepth" gorm:"size:50;not null"`
	Priority           string    `json:"priority" gorm:"size:20;not null;index"`
	ApprovalRequired   bool      `json:"approvalRequired" gorm:"not null;default:false"`
	DueAt              time.Time `json:"dueAt" gorm:"not null;index"`
	Status             string    `json:"status" gorm:"size:20;not null;default:active;index"`
	CreatedBy          string    `json:"createdBy" gorm:"size:100"`
	common.TimestampModel

	Stakeholders []Stakeholder `json:"stakeholders,omitempty" gorm:"foreignKey:WorkflowID"`
	Approvals    []Approval    `json:"approvals,omitempty" gorm:"foreignKey:WorkflowID"`
}

// TableName 表名
func (Workflow) TableName() string {
	return "workflows"
}

// IsTerminal 工作流是否已终结
func (w *Workflow) IsTerminal() bool {
	return w.Status != StatusActive
}

// Overdue 在指定时刻是否已超期
func (w *Workflow) Overdue(now time.Time) bool {
	return now.After(w.DueAt)
}

// Stakeholder 工作流干系人
// IsApprover 在指派时由角色判定一次并落库，后续流程只看该标记
type Stakeholder struct {
	ID         string    `json:"id" gorm:"primaryKey;size:36"`
	WorkflowID string    `json:"workflowId" gorm:"size:36;not null;index"`
	Name       string    `json:"name" gorm:"size:100;not null"`
	Role       string    `json:"role" gorm:"size:100;not null"`
	Email      string    `json:"email" gorm:"size:255;not null"`
	IsApprover bool      `json:"isApprover" gorm:"not null;default:false"`
	CreatedAt  time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

// TableName 表名
func (Stakeholder) TableName() string {
	return "stakeholders"
}

// Approval 审批记录
type Approval struct {
	ID            string     `json:"id" gorm:"primaryKey;size:36"`
	WorkflowID    string     `json:"workflowId" gorm:"size:36;not null;index"`
	ApproverEmail string     `json:"approverEmail" gorm:"size:255;not null"`
	Decision      string     `json:"decision" gorm:"size:20;not null;default:pending;index"`
	DecidedAt     *time.Time `json:"decidedAt,omitempty"`
	Comment       string     `json:"comment" gorm:"type:text"`
	CreatedAt     time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
}

// TableName 表名
func (Approval) TableName() string {
	return "approvals"
}

// ClassifyApprover 按角色名判定干系人是否承担审批职责
// 角色名中出现 approv（如 Approver、Approving Manager）即视为审批人
func ClassifyApprover(role string) bool {
	return strings.Contains(strings.ToLower(role), "approv")
}
