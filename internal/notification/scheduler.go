package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rcaflow/internal/common"
	"rcaflow/internal/infra/queue"
	"rcaflow/internal/logger"
	"rcaflow/internal/metrics"
	"rcaflow/internal/worker/tasks"
	"rcaflow/internal/workflow"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Scheduler 通知排期与投递服务
//
// 幂等性由 notifications.idempotency_key 的唯一索引保证：
// 推模式（asynq 延迟任务）和对账轮询可以放心地重复调用排期，
// 重复的排期会在插入时被拦截。投递失败只标记 failed，
// 绝不向工作流主流程抛错
type Scheduler struct {
	db       *gorm.DB
	notifier Notifier
	queue    queue.Client
	now      func() time.Time
}

// SchedulerOption Scheduler 可选配置
type SchedulerOption func(*Scheduler)

// WithNotifier 注入通知器
func WithNotifier(notifier Notifier) SchedulerOption {
	return func(s *Scheduler) { s.notifier = notifier }
}

// WithQueue 注入延迟任务队列客户端
func WithQueue(client queue.Client) SchedulerOption {
	return func(s *Scheduler) { s.queue = client }
}

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler 创建 Scheduler 实例
func NewScheduler(db *gorm.DB, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		db:    db,
		queue: queue.NewNoopClient(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// jobSpec 一条待排期通知的完整描述
type jobSpec struct {
	kind         string
	bucket       int
	channel      string
	recipient    string
	key          string
	scheduledFor time.Time
	subject      string
	body         string
}

// ScheduleInitiation 工作流发起时按请求中的开关排期通知
// 立即投递发起通知和干系人指派通知；里程碑与临期警告按截止时间排期，
// 发起时已经错过的时间点直接跳过而不是补发。返回排期成功的条数
func (s *Scheduler) ScheduleInitiation(ctx context.Context, wf *workflow.Workflow, stakeholders []workflow.Stakeholder, toggles workflow.NotificationToggles) int {
	now := s.now()
	var specs []jobSpec

	if toggles.Notifications {
		specs = append(specs, jobSpec{
			kind:         KindInitiation,
			channel:      ChannelDashboard,
			key:          ReminderKey(wf.ID, KindInitiation),
			scheduledFor: now,
			subject:      "根因分析工作流已发起",
			body:         fmt.Sprintf("事故 %s 的根因分析工作流已发起，截止时间 %s", wf.IncidentID, wf.DueAt.Format(time.RFC3339)),
		})
		for _, st := range stakeholders {
			specs = append(specs, stakeholderSpec(wf, &st, now))
		}
	}

	if toggles.MilestoneReminders {
		specs = append(specs, reminderSpecs(wf, now)...)
	}

	scheduled := 0
	for _, spec := range specs {
		created, err := s.dispatch(ctx, wf, spec)
		if err != nil {
			logger.WithContext(ctx).Warn("通知排期失败",
				zap.String("workflow_id", wf.ID),
				zap.String("kind", spec.kind),
				zap.Error(err),
			)
			continue
		}
		if created {
			scheduled++
		}
	}
	return scheduled
}

// reminderSpecs 根据截止时间推导里程碑与临期警告排期，过期时间点跳过
func reminderSpecs(wf *workflow.Workflow, now time.Time) []jobSpec {
	candidates := []struct {
		kind    string
		lead    time.Duration
		subject string
	}{
		{KindMilestone24h, Milestone24hLead, "距 SLA 截止还有24小时"},
		{KindMilestone4h, Milestone4hLead, "距 SLA 截止还有4小时"},
		{KindSLAWarning, SLAWarningLead, "SLA 即将或已经超期"},
	}

	var specs []jobSpec
	for _, c := range candidates {
		fireAt := wf.DueAt.Add(-c.lead)
		if fireAt.Before(now) {
			continue
		}
		specs = append(specs, jobSpec{
			kind:         c.kind,
			channel:      ChannelDashboard,
			key:          ReminderKey(wf.ID, c.kind),
			scheduledFor: fireAt,
			subject:      c.subject,
			body:         fmt.Sprintf("工作流 %s 截止时间 %s", wf.ID, wf.DueAt.Format(time.RFC3339)),
		})
	}
	return specs
}

func stakeholderSpec(wf *workflow.Workflow, st *workflow.Stakeholder, now time.Time) jobSpec {
	return jobSpec{
		kind:         KindStakeholderAssigned,
		channel:      ChannelEmail,
		recipient:    st.Email,
		key:          StakeholderKey(wf.ID, st.Email),
		scheduledFor: now,
		subject:      "你被指派为根因分析干系人",
		body: fmt.Sprintf("%s（%s）：你已被指派参与事故 %s 的根因分析，截止时间 %s",
			st.Name, st.Role, wf.IncidentID, wf.DueAt.Format(time.RFC3339)),
	}
}

// NotifyStakeholderAssigned 为补充指派的干系人立即发通知
func (s *Scheduler) NotifyStakeholderAssigned(ctx context.Context, wf *workflow.Workflow, st *workflow.Stakeholder) {
	if _, err := s.dispatch(ctx, wf, stakeholderSpec(wf, st, s.now())); err != nil {
		logger.WithContext(ctx).Warn("干系人指派通知失败",
			zap.String("workflow_id", wf.ID),
			zap.String("email", st.Email),
			zap.Error(err),
		)
	}
}

// NotifyDecision 审批决定后立即通知
func (s *Scheduler) NotifyDecision(ctx context.Context, wf *workflow.Workflow, ap *workflow.Approval) {
	spec := jobSpec{
		kind:         KindDecision,
		channel:      ChannelDashboard,
		key:          DecisionKey(wf.ID, ap.ID),
		scheduledFor: s.now(),
		subject:      "审批已有决定",
		body:         fmt.Sprintf("审批人 %s 对工作流 %s 的决定: %s", ap.ApproverEmail, wf.ID, ap.Decision),
	}
	if _, err := s.dispatch(ctx, wf, spec); err != nil {
		logger.WithContext(ctx).Warn("审批决定通知失败",
			zap.String("workflow_id", wf.ID),
			zap.Error(err),
		)
	}
}

// NotifyCompletion 工作流终结通知，走 webhook 便于外部系统联动
func (s *Scheduler) NotifyCompletion(ctx context.Context, wf *workflow.Workflow) {
	spec := jobSpec{
		kind:         KindCompletion,
		channel:      ChannelWebhook,
		key:          ReminderKey(wf.ID, KindCompletion),
		scheduledFor: s.now(),
		subject:      "根因分析工作流已终结",
		body:         fmt.Sprintf("工作流 %s 已终结，最终状态: %s", wf.ID, wf.Status),
	}
	if _, err := s.dispatch(ctx, wf, spec); err != nil {
		logger.WithContext(ctx).Warn("终结通知失败",
			zap.String("workflow_id", wf.ID),
			zap.Error(err),
		)
	}
}

// DispatchReminder 投递一条提醒类通知（轮询器与补偿路径使用）
// bucket 仅对 sla_breach 有意义。返回是否新建了通知
func (s *Scheduler) DispatchReminder(ctx context.Context, wf *workflow.Workflow, kind string, bucket int) (bool, error) {
	key := ReminderKey(wf.ID, kind)
	subject := "SLA 提醒"
	body := fmt.Sprintf("工作流 %s 截止时间 %s", wf.ID, wf.DueAt.Format(time.RFC3339))

	switch kind {
	case KindMilestone24h:
		subject = "距 SLA 截止还有24小时"
	case KindMilestone4h:
		subject = "距 SLA 截止还有4小时"
	case KindSLAWarning:
		subject = "SLA 即将或已经超期"
	case KindBreach:
		key = BreachKey(wf.ID, bucket)
		subject = "SLA 已超期"
		body = fmt.Sprintf("工作流 %s 已超期约 %d 小时（截止 %s）",
			wf.ID, bucket*int(BreachInterval.Hours()), wf.DueAt.Format(time.RFC3339))
	default:
		return false, fmt.Errorf("不支持的提醒类型: %s", kind)
	}

	return s.dispatch(ctx, wf, jobSpec{
		kind:         kind,
		bucket:       bucket,
		channel:      ChannelDashboard,
		key:          key,
		scheduledFor: s.now(),
		subject:      subject,
		body:         body,
	})
}

// dispatch 排期一条通知：插入任务行，未来的走延迟队列，到期的就地投递
func (s *Scheduler) dispatch(ctx context.Context, wf *workflow.Workflow, spec jobSpec) (bool, error) {
	payload, _ := json.Marshal(map[string]any{
		"workflow_id": wf.ID,
		"incident_id": wf.IncidentID,
		"kind":        spec.kind,
		"bucket":      spec.bucket,
		"priority":    wf.Priority,
		"due_at":      wf.DueAt,
		"subject":     spec.subject,
		"body":        spec.body,
	})

	job := &NotificationJob{
		ID:             uuid.NewString(),
		WorkflowID:     wf.ID,
		Kind:           spec.kind,
		Channel:        spec.channel,
		Recipient:      spec.recipient,
		Payload:        payload,
		Status:         StatusQueued,
		IdempotencyKey: spec.key,
		ScheduledFor:   spec.scheduledFor.UTC(),
	}

	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		// 唯一索引拦截到重复排期，视为正常
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			metrics.NotificationsDedupedTotal.WithLabelValues(spec.kind).Inc()
			return false, nil
		}
		return false, fmt.Errorf("写入通知任务失败: %w", err)
	}

	if job.ScheduledFor.After(s.now()) {
		// 推模式：asynq 延迟任务，失败不致命，轮询器兜底
		err := s.queue.EnqueueReminder(tasks.DispatchReminderPayload{
			WorkflowID: wf.ID,
			Kind:       spec.kind,
			Bucket:     spec.bucket,
		}, spec.key, job.ScheduledFor)
		if err != nil {
			logger.WithContext(ctx).Warn("延迟任务入队失败，等待轮询兜底",
				zap.String("key", spec.key),
				zap.Error(err),
			)
		}
		return true, nil
	}

	s.deliver(ctx, job)
	return true, nil
}

// deliver 实际投递并落状态，失败只标记 failed 不抛错
func (s *Scheduler) deliver(ctx context.Context, job *NotificationJob) {
	var data map[string]any
	_ = json.Unmarshal(job.Payload, &data)

	subject, _ := data["subject"].(string)
	body, _ := data["body"].(string)

	err := s.notifierSend(ctx, &Notification{
		Channel: job.Channel,
		To:      job.Recipient,
		Subject: subject,
		Body:    body,
		Data:    data,
	})

	now := s.now()
	if err != nil {
		s.db.WithContext(ctx).
			Model(&NotificationJob{}).
			Where("id = ? AND status = ?", job.ID, StatusQueued).
			Updates(map[string]any{"status": StatusFailed, "error": err.Error()})
		metrics.NotificationsDispatchedTotal.WithLabelValues(job.Kind, StatusFailed).Inc()
		logger.WithContext(ctx).Warn("通知投递失败",
			zap.String("workflow_id", job.WorkflowID),
			zap.String("kind", job.Kind),
			zap.Error(err),
		)
		return
	}

	s.db.WithContext(ctx).
		Model(&NotificationJob{}).
		Where("id = ? AND status = ?", job.ID, StatusQueued).
		Updates(map[string]any{"status": StatusSent, "sent_at": now})
	metrics.NotificationsDispatchedTotal.WithLabelValues(job.Kind, StatusSent).Inc()
}

func (s *Scheduler) notifierSend(ctx context.Context, n *Notification) error {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.Send(ctx, n)
}

// DeliverByKey 按幂等键投递（asynq 任务处理器使用）
// 任务到期时工作流可能已终结，提醒类通知此时置为 canceled
func (s *Scheduler) DeliverByKey(ctx context.Context, key string) error {
	var job NotificationJob
	err := s.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("查询通知任务失败: %w", err)
	}
	if job.Status != StatusQueued {
		return nil
	}

	var wf workflow.Workflow
	if err := s.db.WithContext(ctx).Where("id = ?", job.WorkflowID).First(&wf).Error; err != nil {
		return fmt.Errorf("查询工作流失败: %w", err)
	}

	if wf.IsTerminal() && isReminderKind(job.Kind) {
		s.db.WithContext(ctx).
			Model(&NotificationJob{}).
			Where("id = ? AND status = ?", job.ID, StatusQueued).
			Update("status", StatusCanceled)
		return nil
	}

	s.deliver(ctx, &job)
	return nil
}

// CancelPending 撤销工作流的全部待投递通知，延迟任务尽力删除
func (s *Scheduler) CancelPending(ctx context.Context, workflowID string) error {
	var keys []string
	err := s.db.WithContext(ctx).
		Model(&NotificationJob{}).
		Where("workflow_id = ? AND status = ?", workflowID, StatusQueued).
		Pluck("idempotency_key", &keys).Error
	if err != nil {
		return fmt.Errorf("查询待投递通知失败: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	err = s.db.WithContext(ctx).
		Model(&NotificationJob{}).
		Where("workflow_id = ? AND status = ?", workflowID, StatusQueued).
		Update("status", StatusCanceled).Error
	if err != nil {
		return fmt.Errorf("撤销通知失败: %w", err)
	}

	for _, key := range keys {
		if err := s.queue.CancelReminder(key); err != nil {
			logger.WithContext(ctx).Debug("延迟任务删除失败",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}

	logger.WithContext(ctx).Info("已撤销待投递通知",
		zap.String("workflow_id", workflowID),
		zap.Int("count", len(keys)),
	)
	return nil
}

// ListForWorkflow 查询工作流的通知记录
func (s *Scheduler) ListForWorkflow(ctx context.Context, workflowID string) ([]NotificationJob, error) {
	var jobs []NotificationJob
	err := s.db.WithContext(ctx).
		Scopes(common.ByWorkflow(workflowID)).
		Order("scheduled_for ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("查询通知记录失败: %w", err)
	}
	return jobs, nil
}

// isReminderKind 提醒类通知在工作流终结后失去意义
func isReminderKind(kind string) bool {
	switch kind {
	case KindMilestone24h, KindMilestone4h, KindSLAWarning, KindBreach:
		return true
	}
	return false
}
