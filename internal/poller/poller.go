package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rcaflow/internal/common"
	"rcaflow/internal/logger"
	"rcaflow/internal/metrics"
	"rcaflow/internal/notification"
	"rcaflow/internal/workflow"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReminderDispatcher 提醒投递接口，由 notification.Scheduler 实现
type ReminderDispatcher interface {
	// DispatchReminder 投递一条提醒，返回是否新建（重复排期返回 false）
	DispatchReminder(ctx context.Context, wf *workflow.Workflow, kind string, bucket int) (bool, error)
}

// Poller 对账轮询器
//
// 推模式（asynq 延迟任务）可能因 Redis 不可用而丢失，轮询器按固定间隔
// 扫描全部活跃工作流并推导应发未发的提醒。幂等键保证两条路径
// 重复推导不会重复投递，因此轮询器可以放心地每轮全量重算
type Poller struct {
	db         *gorm.DB
	dispatcher ReminderDispatcher
	interval   time.Duration
	now        func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Option Poller 可选配置
type Option func(*Poller)

// WithInterval 设置轮询间隔
func WithInterval(interval time.Duration) Option {
	return func(p *Poller) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// New 创建 Poller 实例
func New(db *gorm.DB, dispatcher ReminderDispatcher, opts ...Option) *Poller {
	p := &Poller{
		db:         db,
		dispatcher: dispatcher,
		interval:   5 * time.Minute,
		now:        func() time.Time { return time.Now().UTC() },
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunResult 单轮对账结果
type RunResult struct {
	WorkflowsScanned   int      `json:"workflowsScanned"`   // 扫描的活跃工作流数
	MilestoneReminders int      `json:"milestoneReminders"` // 新投递的里程碑提醒数
	SLAWarnings        int      `json:"slaWarnings"`        // 新投递的临期/超期警告数
	Errors             []string `json:"errors,omitempty"`   // 单个工作流的失败不中断整轮
}

// Start 启动后台轮询循环
func (p *Poller) Start(ctx context.Context) {
	go func() {
		defer close(p.doneCh)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		logger.Get().Info("对账轮询器已启动", zap.Duration("interval", p.interval))
		for {
			select {
			case <-ticker.C:
				result := p.RunOnce(ctx)
				if result.MilestoneReminders+result.SLAWarnings > 0 || len(result.Errors) > 0 {
					logger.Get().Info("对账轮询完成",
						zap.Int("scanned", result.WorkflowsScanned),
						zap.Int("milestones", result.MilestoneReminders),
						zap.Int("warnings", result.SLAWarnings),
						zap.Int("errors", len(result.Errors)),
					)
				}
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop 停止轮询并等待当前轮结束
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.doneCh
}

// RunOnce 执行一轮对账：扫描活跃工作流，推导并投递到期未发的提醒
func (p *Poller) RunOnce(ctx context.Context) RunResult {
	start := time.Now()
	metrics.PollerRunsTotal.Inc()
	defer func() {
		metrics.PollerRunDuration.Observe(time.Since(start).Seconds())
	}()

	var result RunResult
	now := p.now()

	var workflows []workflow.Workflow
	err := p.db.WithContext(ctx).
		Scopes(common.ActiveOnly()).
		Find(&workflows).Error
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("查询活跃工作流失败: %v", err))
		return result
	}

	result.WorkflowsScanned = len(workflows)
	overdue := 0
	for i := range workflows {
		wf := &workflows[i]
		if wf.Overdue(now) {
			overdue++
		}
		milestones, warnings, err := p.reconcile(ctx, wf, now)
		result.MilestoneReminders += milestones
		result.SLAWarnings += warnings
		if err != nil {
			metrics.PollerWorkflowErrorsTotal.Inc()
			result.Errors = append(result.Errors, fmt.Sprintf("工作流 %s: %v", wf.ID, err))
			logger.WithContext(ctx).Warn("工作流对账失败",
				zap.String("workflow_id", wf.ID),
				zap.Error(err),
			)
		}
	}
	metrics.WorkflowsOverdue.Set(float64(overdue))
	return result
}

// reconcile 推导单个工作流当前应已发出的提醒档位并投递
// 重复推导由幂等键兜住，只统计真正新建的条数
//
// 里程碑与临期警告只在各自的时间窗内补发：起点早于工作流创建时间的
// 提醒在发起时就被跳过，对账不回头补发；错过整个窗口的提醒同样作废，
// 由下一级提醒接棒
func (p *Poller) reconcile(ctx context.Context, wf *workflow.Workflow, now time.Time) (milestones, warnings int, err error) {
	type due struct {
		kind   string
		bucket int
	}
	var dues []due

	milestone24hAt := wf.DueAt.Add(-notification.Milestone24hLead)
	milestone4hAt := wf.DueAt.Add(-notification.Milestone4hLead)
	warningAt := wf.DueAt.Add(-notification.SLAWarningLead)

	if inWindow(now, milestone24hAt, milestone4hAt) && !milestone24hAt.Before(wf.CreatedAt) {
		dues = append(dues, due{kind: notification.KindMilestone24h})
	}
	if inWindow(now, milestone4hAt, wf.DueAt) && !milestone4hAt.Before(wf.CreatedAt) {
		dues = append(dues, due{kind: notification.KindMilestone4h})
	}
	if inWindow(now, warningAt, wf.DueAt) && !warningAt.Before(wf.CreatedAt) {
		dues = append(dues, due{kind: notification.KindSLAWarning})
	}
	if overdueFor := now.Sub(wf.DueAt); overdueFor > 0 {
		// 超期后每满24小时一档，档位键各自独立去重
		for k := 1; k <= int(overdueFor/notification.BreachInterval); k++ {
			dues = append(dues, due{kind: notification.KindBreach, bucket: k})
		}
	}

	for _, d := range dues {
		created, dispatchErr := p.dispatcher.DispatchReminder(ctx, wf, d.kind, d.bucket)
		if dispatchErr != nil {
			err = dispatchErr
			continue
		}
		if !created {
			continue
		}
		switch d.kind {
		case notification.KindMilestone24h, notification.KindMilestone4h:
			milestones++
		default:
			warnings++
		}
	}
	return milestones, warnings, err
}

// inWindow now 是否落在 [from, until) 区间内
func inWindow(now, from, until time.Time) bool {
	return !now.Before(from) && now.Before(until)
}

// Stats 当前工作流 SLA 概况，供运维态势接口使用
type Stats struct {
	ActiveWorkflows  int64 `json:"activeWorkflows"`
	OverdueWorkflows int64 `json:"overdueWorkflows"`
	DueWithin24h     int64 `json:"dueWithin24h"`
}

// CollectStats 统计活跃、超期与24小时内到期的工作流数
func (p *Poller) CollectStats(ctx context.Context) (*Stats, error) {
	now := p.now()
	var stats Stats

	active := func() *gorm.DB {
		return p.db.WithContext(ctx).Model(&workflow.Workflow{}).Scopes(common.ActiveOnly())
	}
	if err := active().Count(&stats.ActiveWorkflows).Error; err != nil {
		return nil, fmt.Errorf("统计活跃工作流失败: %w", err)
	}
	if err := active().Scopes(common.DueBefore(now)).Count(&stats.OverdueWorkflows).Error; err != nil {
		return nil, fmt.Errorf("统计超期工作流失败: %w", err)
	}
	if err := active().
		Where("due_at >= ? AND due_at < ?", now, now.Add(24*time.Hour)).
		Count(&stats.DueWithin24h).Error; err != nil {
		return nil, fmt.Errorf("统计临期工作流失败: %w", err)
	}
	return &stats, nil
}
