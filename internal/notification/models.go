package notification

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// 通知类型
const (
	KindInitiation          = "initiation"           // 工作流发起通知
	KindStakeholderAssigned = "stakeholder_assigned" // 干系人指派通知
	KindMilestone24h        = "milestone_24h"        // 截止前24小时里程碑提醒
	KindMilestone4h         = "milestone_4h"         // 截止前4小时里程碑提醒
	KindSLAWarning          = "sla_warning"          // 临近/初次超期警告
	KindBreach              = "sla_breach"           // 周期性超期警告（每24小时一档）
	KindDecision            = "approval_decision"    // 审批决定通知
	KindCompletion          = "workflow_completed"   // 工作流终结通知
)

// 提醒时间窗口
const (
	Milestone24hLead = 24 * time.Hour // milestone_24h 提前量
	Milestone4hLead  = 4 * time.Hour  // milestone_4h 提前量
	SLAWarningLead   = 2 * time.Hour  // sla_warning 提前量
	BreachInterval   = 24 * time.Hour // 超期后每档间隔
)

// 通知状态
const (
	StatusQueued   = "queued"   // 已排期待投递
	StatusSent     = "sent"     // 已投递
	StatusFailed   = "failed"   // 投递失败
	StatusCanceled = "canceled" // 工作流终结后撤销
)

// 投递通道
const (
	ChannelDashboard = "dashboard" // 仅落库，由看板拉取
	ChannelEmail     = "email"     // SMTP 邮件
	ChannelWebhook   = "webhook"   // HTTP 回调
)

// NotificationJob 通知任务记录
// IdempotencyKey 上的唯一索引是排期去重的最终裁决，
// 应用层不做先查后插
type NotificationJob struct {
	ID             string         `json:"id" gorm:"primaryKey;size:36"`
	WorkflowID     string         `json:"workflowId" gorm:"size:36;not null;index"`
	Kind           string         `json:"kind" gorm:"size:50;not null;index"`
	Channel        string         `json:"channel" gorm:"size:20;not null"`
	Recipient      string         `json:"recipient" gorm:"size:255"`
	Payload        datatypes.JSON `json:"payload,omitempty"`
	Status         string         `json:"status" gorm:"size:20;not null;default:queued;index"`
	IdempotencyKey string         `json:"idempotencyKey" gorm:"size:200;not null;uniqueIndex"`
	ScheduledFor   time.Time      `json:"scheduledFor" gorm:"not null;index"`
	SentAt         *time.Time     `json:"sentAt,omitempty"`
	Error          string         `json:"error,omitempty" gorm:"type:text"`
	CreatedAt      time.Time      `json:"createdAt" gorm:"not null;autoCreateTime"`
}

// TableName 表名
func (NotificationJob) TableName() string {
	return "notifications"
}

// ReminderKey 单次型通知的幂等键
func ReminderKey(workflowID, kind string) string {
	return fmt.Sprintf("wf:%s:%s", workflowID, kind)
}

// BreachKey 超期周期提醒的幂等键，bucket 从1开始
func BreachKey(workflowID string, bucket int) string {
	return fmt.Sprintf("wf:%s:%s:%d", workflowID, KindBreach, bucket)
}

// StakeholderKey 干系人指派通知的幂等键
func StakeholderKey(workflowID, email string) string {
	return fmt.Sprintf("wf:%s:%s:%s", workflowID, KindStakeholderAssigned, strings.ToLower(email))
}

// DecisionKey 审批决定通知的幂等键
func DecisionKey(workflowID, approvalID string) string {
	return fmt.Sprintf("wf:%s:%s:%s", workflowID, KindDecision, approvalID)
}
