package tasks

// Task Types
const (
	TypeDispatchReminder = "notification:dispatch_reminder"
)

// DispatchReminderPayload 提醒投递任务载荷
// Bucket 仅对周期性超期提醒有意义（第几个24小时周期），其余类型为0
type DispatchReminderPayload struct {
	WorkflowID string `json:"workflow_id"`
	Kind       string `json:"kind"`
	Bucket     int    `json:"bucket"`
}
