package poller

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"rcaflow/internal/logger"
	"rcaflow/internal/notification"
	"rcaflow/internal/workflow"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func setupPollerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	_ = logger.Init("error", "console", "stdout")
	dsn := fmt.Sprintf("file:poller_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	if err := db.AutoMigrate(&workflow.Workflow{}, &notification.NotificationJob{}); err != nil {
		t.Fatalf("迁移测试表失败: %v", err)
	}
	return db
}

// seedWorkflow 显式指定创建时间，对账的提醒窗口以此为下界
func seedWorkflow(t *testing.T, db *gorm.DB, status string, createdAt, dueAt time.Time) *workflow.Workflow {
	t.Helper()
	wf := &workflow.Workflow{
		ID:         uuid.NewString(),
		IncidentID: "inc-1",
		Type:       "Standard RCA",
		Priority:   workflow.PriorityHigh,
		DueAt:      dueAt,
		Status:     status,
		CreatedBy:  "user-1",
	}
	wf.CreatedAt = createdAt
	if err := db.Create(wf).Error; err != nil {
		t.Fatalf("创建工作流失败: %v", err)
	}
	return wf
}

// newTestPoller 用真实 Scheduler 做投递端，端到端验证幂等
func newTestPoller(db *gorm.DB, now time.Time) *Poller {
	clock := func() time.Time { return now }
	scheduler := notification.NewScheduler(db, notification.WithClock(clock))
	return New(db, scheduler, WithClock(clock))
}

func countJobs(t *testing.T, db *gorm.DB, kind string) int64 {
	t.Helper()
	var n int64
	db.Model(&notification.NotificationJob{}).Where("kind = ?", kind).Count(&n)
	return n
}

func TestRunOnce(t *testing.T) {
	t0 := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	t.Run("超期50小时只触发两档超期警告", func(t *testing.T) {
		db := setupPollerTestDB(t)
		p := newTestPoller(db, t0)
		seedWorkflow(t, db, workflow.StatusActive, t0.Add(-100*time.Hour), t0.Add(-50*time.Hour))

		result := p.RunOnce(context.Background())
		assert.Equal(t, 1, result.WorkflowsScanned)
		assert.Equal(t, 0, result.MilestoneReminders, "里程碑窗口已整体错过，不再补发")
		assert.Equal(t, 2, result.SLAWarnings)
		assert.Empty(t, result.Errors)

		assert.Equal(t, int64(2), countJobs(t, db, notification.KindBreach), "50小时只满两档，不该出现第三档")
		assert.Equal(t, int64(0), countJobs(t, db, notification.KindMilestone24h))
		assert.Equal(t, int64(0), countJobs(t, db, notification.KindSLAWarning), "临期警告窗口止于截止时间")
	})

	t.Run("各提醒只在自己的时间窗内到期", func(t *testing.T) {
		db := setupPollerTestDB(t)
		// 距截止还有3小时：24h 窗口已过，4h 与临期警告窗口都在进行中
		p := newTestPoller(db, t0)
		seedWorkflow(t, db, workflow.StatusActive, t0.Add(-48*time.Hour), t0.Add(3*time.Hour))

		result := p.RunOnce(context.Background())
		assert.Equal(t, 1, result.MilestoneReminders, "只剩4小时里程碑在窗口内")
		assert.Equal(t, 0, result.SLAWarnings, "临期警告窗口尚未开启")
		assert.Equal(t, int64(0), countJobs(t, db, notification.KindMilestone24h), "错过窗口的24h里程碑由4h里程碑接棒")
		assert.Equal(t, int64(1), countJobs(t, db, notification.KindMilestone4h))
	})

	t.Run("对账不回补发起时跳过的里程碑", func(t *testing.T) {
		db := setupPollerTestDB(t)
		clock := t0
		scheduler := notification.NewScheduler(db, notification.WithClock(func() time.Time { return clock }))
		p := New(db, scheduler, WithClock(func() time.Time { return clock }))

		// SLA 只有4小时：24h 里程碑的触发点早于工作流创建时间，发起时即跳过
		wf := seedWorkflow(t, db, workflow.StatusActive, t0, t0.Add(4*time.Hour))
		scheduler.ScheduleInitiation(context.Background(), wf,
			nil, workflow.NotificationToggles{Notifications: true, MilestoneReminders: true})
		assert.Equal(t, int64(0), countJobs(t, db, notification.KindMilestone24h))

		clock = t0.Add(5 * time.Minute)
		p.RunOnce(context.Background())
		assert.Equal(t, int64(0), countJobs(t, db, notification.KindMilestone24h),
			"发起时跳过的24h里程碑对账也不应回头补发")
	})

	t.Run("重复对账不重复投递", func(t *testing.T) {
		db := setupPollerTestDB(t)
		p := newTestPoller(db, t0)
		seedWorkflow(t, db, workflow.StatusActive, t0.Add(-100*time.Hour), t0.Add(-50*time.Hour))

		first := p.RunOnce(context.Background())
		second := p.RunOnce(context.Background())
		assert.Equal(t, 2, first.MilestoneReminders+first.SLAWarnings)
		assert.Equal(t, 0, second.MilestoneReminders+second.SLAWarnings, "第二轮应被幂等键全部拦截")
	})

	t.Run("超期时间推进后只补新档位", func(t *testing.T) {
		db := setupPollerTestDB(t)
		wf := seedWorkflow(t, db, workflow.StatusActive, t0.Add(-100*time.Hour), t0.Add(-25*time.Hour))

		p1 := newTestPoller(db, t0)
		p1.RunOnce(context.Background())
		assert.Equal(t, int64(1), countJobs(t, db, notification.KindBreach))

		// 再过24小时，第二档到期
		p2 := newTestPoller(db, t0.Add(24*time.Hour))
		result := p2.RunOnce(context.Background())
		assert.Equal(t, 1, result.SLAWarnings, "只有新到期的第二档")
		assert.Equal(t, int64(2), countJobs(t, db, notification.KindBreach))
		_ = wf
	})

	t.Run("未到提醒窗口不投递", func(t *testing.T) {
		db := setupPollerTestDB(t)
		p := newTestPoller(db, t0)
		seedWorkflow(t, db, workflow.StatusActive, t0.Add(-time.Hour), t0.Add(30*time.Hour))

		result := p.RunOnce(context.Background())
		assert.Equal(t, 1, result.WorkflowsScanned)
		assert.Equal(t, 0, result.MilestoneReminders+result.SLAWarnings)
	})

	t.Run("终结的工作流不在扫描范围", func(t *testing.T) {
		db := setupPollerTestDB(t)
		p := newTestPoller(db, t0)
		seedWorkflow(t, db, workflow.StatusClosed, t0.Add(-100*time.Hour), t0.Add(-50*time.Hour))
		seedWorkflow(t, db, workflow.StatusRejected, t0.Add(-100*time.Hour), t0.Add(-50*time.Hour))

		result := p.RunOnce(context.Background())
		assert.Equal(t, 0, result.WorkflowsScanned, "终结状态的工作流不应再产生提醒")
		var total int64
		db.Model(&notification.NotificationJob{}).Count(&total)
		assert.Equal(t, int64(0), total)
	})
}

// flakyDispatcher 指定工作流必败，其余转发给真实投递端
type flakyDispatcher struct {
	inner  ReminderDispatcher
	failID string
}

func (f *flakyDispatcher) DispatchReminder(ctx context.Context, wf *workflow.Workflow, kind string, bucket int) (bool, error) {
	if wf.ID == f.failID {
		return false, errors.New("dispatch blew up")
	}
	return f.inner.DispatchReminder(ctx, wf, kind, bucket)
}

func TestRunOnceErrorIsolation(t *testing.T) {
	t0 := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	db := setupPollerTestDB(t)
	clock := func() time.Time { return t0 }

	bad := seedWorkflow(t, db, workflow.StatusActive, t0.Add(-100*time.Hour), t0.Add(-25*time.Hour))
	good := seedWorkflow(t, db, workflow.StatusActive, t0.Add(-100*time.Hour), t0.Add(-25*time.Hour))

	dispatcher := &flakyDispatcher{
		inner:  notification.NewScheduler(db, notification.WithClock(clock)),
		failID: bad.ID,
	}
	p := New(db, dispatcher, WithClock(clock))

	result := p.RunOnce(context.Background())
	assert.Equal(t, 2, result.WorkflowsScanned)
	assert.Len(t, result.Errors, 1, "单个工作流失败不应中断整轮")
	assert.Contains(t, result.Errors[0], bad.ID)

	// 正常工作流的提醒照常投递
	var forGood int64
	db.Model(&notification.NotificationJob{}).Where("workflow_id = ?", good.ID).Count(&forGood)
	assert.Greater(t, forGood, int64(0))
}

func TestCollectStats(t *testing.T) {
	t0 := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	db := setupPollerTestDB(t)
	p := newTestPoller(db, t0)

	seedWorkflow(t, db, workflow.StatusActive, t0.Add(-time.Hour), t0.Add(10*time.Hour))
	seedWorkflow(t, db, workflow.StatusActive, t0.Add(-26*time.Hour), t0.Add(-2*time.Hour))
	seedWorkflow(t, db, workflow.StatusActive, t0.Add(-time.Hour), t0.Add(48*time.Hour))
	seedWorkflow(t, db, workflow.StatusClosed, t0.Add(-26*time.Hour), t0.Add(-2*time.Hour))

	stats, err := p.CollectStats(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int64(3), stats.ActiveWorkflows, "终结的工作流不计入活跃数")
	assert.Equal(t, int64(1), stats.OverdueWorkflows)
	assert.Equal(t, int64(1), stats.DueWithin24h)
}
