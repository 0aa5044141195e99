package audit

// EventType 审计事件类型
type EventType string

// 工作流生命周期事件
const (
	EventWorkflowInitiate EventType = "workflow.initiate" // 发起工作流
	EventWorkflowClose    EventType = "workflow.close"    // 审批通过关闭
	EventWorkflowReject   EventType = "workflow.reject"   // 审批拒绝终结
)

// 审批事件
const (
	EventApprovalApprove EventType = "approval.approve" // 审批同意
	EventApprovalReject  EventType = "approval.reject"  // 审批拒绝
)

// 干系人事件
const (
	EventStakeholderReplace EventType = "stakeholder.replace" // 整体替换干系人
)

// 运维事件
const (
	EventCronProcess EventType = "cron.process_reminders" // 对账轮询执行
)
