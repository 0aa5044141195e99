package workflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"rcaflow/internal/common"
	"rcaflow/internal/logger"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

// fakeIncidentGate 事故校验桩
type fakeIncidentGate struct {
	ensureErr     error
	marked        []string
	ensuredIDs    []string
	markInvestErr error
}

func (f *fakeIncidentGate) EnsureOpen(ctx context.Context, incidentID string) error {
	f.ensuredIDs = append(f.ensuredIDs, incidentID)
	return f.ensureErr
}

func (f *fakeIncidentGate) MarkInvestigating(ctx context.Context, incidentID string) error {
	f.marked = append(f.marked, incidentID)
	return f.markInvestErr
}

// fakeScheduler 通知排期桩
type fakeScheduler struct {
	scheduled    int
	toggles      NotificationToggles
	assignedWfs  []string
	assignedWhom []string
}

func (f *fakeScheduler) ScheduleInitiation(ctx context.Context, wf *Workflow, stakeholders []Stakeholder, toggles NotificationToggles) int {
	f.toggles = toggles
	f.scheduled = 0
	if toggles.Notifications {
		f.scheduled = 1 + len(stakeholders)
	}
	return f.scheduled
}

func (f *fakeScheduler) NotifyStakeholderAssigned(ctx context.Context, wf *Workflow, st *Stakeholder) {
	f.assignedWfs = append(f.assignedWfs, wf.ID)
	f.assignedWhom = append(f.assignedWhom, st.Email)
}

func setupWorkflowTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	_ = logger.Init("error", "console", "stdout")
	dsn := fmt.Sprintf("file:workflow_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	if err := db.AutoMigrate(&Workflow{}, &Stakeholder{}, &Approval{}); err != nil {
		t.Fatalf("迁移测试表失败: %v", err)
	}
	return db
}

func validInitiateRequest() *InitiateRequest {
	return &InitiateRequest{
		IncidentID:         "inc-1",
		Type:               "Standard RCA",
		DocumentationLevel: "detailed",
		AnalysisDepth:      "full",
		Priority:           PriorityHigh,
		ApprovalRequired:   true,
		Stakeholders: []StakeholderInput{
			{Name: "张三", Role: "Engineering Lead", Email: "zhangsan@example.com"},
			{Name: "李四", Role: "Senior Approver", Email: "lisi@example.com"},
		},
	}
}

func TestInitiate(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	newService := func(db *gorm.DB, gate *fakeIncidentGate, sched *fakeScheduler) *WorkflowService {
		return NewWorkflowService(db,
			WithIncidentGate(gate),
			WithScheduler(sched),
			WithClock(func() time.Time { return t0 }),
		)
	}

	t.Run("成功发起并计算截止时间", func(t *testing.T) {
		db := setupWorkflowTestDB(t)
		gate := &fakeIncidentGate{}
		sched := &fakeScheduler{}
		svc := newService(db, gate, sched)

		result, err := svc.Initiate(context.Background(), validInitiateRequest(), "user-1")
		assert.NoError(t, err, "发起工作流应成功")
		assert.Equal(t, StatusActive, result.Workflow.Status)
		assert.True(t, result.Workflow.DueAt.Equal(t0.Add(24*time.Hour)),
			"标准类型的截止时间应为发起时间+24小时")
		assert.Equal(t, 3, result.NotificationsScheduled, "排期条数应透传")
		assert.Equal(t, []string{"inc-1"}, gate.ensuredIDs, "应校验事故状态")
		assert.Equal(t, []string{"inc-1"}, gate.marked, "应推进事故状态")

		// 审批人按角色自动识别
		var approvals []Approval
		db.Where("workflow_id = ?", result.Workflow.ID).Find(&approvals)
		assert.Len(t, approvals, 1, "仅审批人角色生成审批记录")
		assert.Equal(t, "lisi@example.com", approvals[0].ApproverEmail)
		assert.Equal(t, DecisionPending, approvals[0].Decision)
	})

	t.Run("通知开关默认开启", func(t *testing.T) {
		db := setupWorkflowTestDB(t)
		sched := &fakeScheduler{}
		svc := newService(db, &fakeIncidentGate{}, sched)

		_, err := svc.Initiate(context.Background(), validInitiateRequest(), "user-1")
		assert.NoError(t, err)
		assert.True(t, sched.toggles.Notifications, "缺省时应开启通知")
		assert.True(t, sched.toggles.MilestoneReminders, "缺省时应开启里程碑提醒")
	})

	t.Run("显式关闭开关透传到排期", func(t *testing.T) {
		db := setupWorkflowTestDB(t)
		sched := &fakeScheduler{}
		svc := newService(db, &fakeIncidentGate{}, sched)

		off := false
		req := validInitiateRequest()
		req.EnableNotifications = &off
		req.EnableMilestoneReminders = &off
		result, err := svc.Initiate(context.Background(), req, "user-1")
		assert.NoError(t, err)
		assert.False(t, sched.toggles.Notifications)
		assert.False(t, sched.toggles.MilestoneReminders)
		assert.Equal(t, 0, result.NotificationsScheduled, "关闭开关后无通知排期")
	})

	t.Run("紧急类型截止时间更短", func(t *testing.T) {
		db := setupWorkflowTestDB(t)
		svc := newService(db, &fakeIncidentGate{}, &fakeScheduler{})

		req := validInitiateRequest()
		req.Type = "Emergency Response"
		result, err := svc.Initiate(context.Background(), req, "user-1")
		assert.NoError(t, err)
		assert.True(t, result.Workflow.DueAt.Equal(t0.Add(4*time.Hour)),
			"紧急类型的截止时间应为发起时间+4小时")
	})

	t.Run("无干系人拒绝发起", func(t *testing.T) {
		db := setupWorkflowTestDB(t)
		svc := newService(db, &fakeIncidentGate{}, &fakeScheduler{})

		req := validInitiateRequest()
		req.Stakeholders = nil
		_, err := svc.Initiate(context.Background(), req, "user-1")
		assertBusinessCode(t, err, common.CodeStakeholderInvalid)
	})

	t.Run("干系人邮箱重复拒绝发起", func(t *testing.T) {
		db := setupWorkflowTestDB(t)
		svc := newService(db, &fakeIncidentGate{}, &fakeScheduler{})

		req := validInitiateRequest()
		req.Stakeholders = append(req.Stakeholders,
			StakeholderInput{Name: "王五", Role: "Observer", Email: "ZhangSan@example.com"})
		_, err := svc.Initiate(context.Background(), req, "user-1")
		assertBusinessCode(t, err, common.CodeStakeholderInvalid)
	})

	t.Run("需要审批但无审批人拒绝发起", func(t *testing.T) {
		db := setupWorkflowTestDB(t)
		svc := newService(db, &fakeIncidentGate{}, &fakeScheduler{})

		req := validInitiateRequest()
		req.Stakeholders = []StakeholderInput{
			{Name: "张三", Role: "Engineering Lead", Email: "zhangsan@example.com"},
		}
		_, err := svc.Initiate(context.Background(), req, "user-1")
		assertBusinessCode(t, err, common.CodeApproverRequired)
	})

	t.Run("显式标记覆盖角色判定", func(t *testing.T) {
		db := setupWorkflowTestDB(t)
		svc := newService(db, &fakeIncidentGate{}, &fakeScheduler{})

		isApprover := true
		req := validInitiateRequest()
		req.Stakeholders = []StakeholderInput{
			{Name: "张三", Role: "Engineering Lead", Email: "zhangsan@example.com", IsApprover: &isApprover},
		}
		result, err := svc.Initiate(context.Background(), req, "user-1")
		assert.NoError(t, err)

		var approvals []Approval
		db.Where("workflow_id = ?", result.Workflow.ID).Find(&approvals)
		assert.Len(t, approvals, 1, "显式标记的干系人应生成审批记录")
	})

	t.Run("事故已终结拒绝发起", func(t *testing.T) {
		db := setupWorkflowTestDB(t)
		gate := &fakeIncidentGate{ensureErr: common.NewBusinessErrorWithCode(common.CodeIncidentClosed)}
		svc := newService(db, gate, &fakeScheduler{})

		_, err := svc.Initiate(context.Background(), validInitiateRequest(), "user-1")
		assertBusinessCode(t, err, common.CodeIncidentClosed)

		var count int64
		db.Model(&Workflow{}).Count(&count)
		assert.Equal(t, int64(0), count, "事故校验失败不应落库")
	})

	t.Run("无效优先级拒绝发起", func(t *testing.T) {
		db := setupWorkflowTestDB(t)
		svc := newService(db, &fakeIncidentGate{}, &fakeScheduler{})

		req := validInitiateRequest()
		req.Priority = "urgent"
		_, err := svc.Initiate(context.Background(), req, "user-1")
		assert.Error(t, err, "无效优先级应被拒绝")
	})
}

func TestReplaceStakeholders(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	setup := func(t *testing.T) (*gorm.DB, *WorkflowService, *fakeScheduler, *Workflow) {
		db := setupWorkflowTestDB(t)
		sched := &fakeScheduler{}
		svc := NewWorkflowService(db,
			WithIncidentGate(&fakeIncidentGate{}),
			WithScheduler(sched),
			WithClock(func() time.Time { return t0 }),
		)
		result, err := svc.Initiate(context.Background(), validInitiateRequest(), "user-1")
		if err != nil {
			t.Fatalf("准备工作流失败: %v", err)
		}
		return db, svc, sched, result.Workflow
	}

	t.Run("新增干系人补建审批并发通知", func(t *testing.T) {
		db, svc, sched, wf := setup(t)

		inputs := []StakeholderInput{
			{Name: "张三", Role: "Engineering Lead", Email: "zhangsan@example.com"},
			{Name: "李四", Role: "Senior Approver", Email: "lisi@example.com"},
			{Name: "赵六", Role: "Backup Approver", Email: "zhaoliu@example.com"},
		}
		updated, err := svc.ReplaceStakeholders(context.Background(), wf.ID, inputs, "user-1")
		assert.NoError(t, err)
		assert.Len(t, updated.Stakeholders, 3)

		var approvals []Approval
		db.Where("workflow_id = ?", wf.ID).Order("approver_email ASC").Find(&approvals)
		assert.Len(t, approvals, 2, "新增审批人应补建 pending 审批")

		assert.Equal(t, []string{"zhaoliu@example.com"}, sched.assignedWhom,
			"仅新加入的干系人收到指派通知")
	})

	t.Run("移除审批人撤掉未决审批", func(t *testing.T) {
		db, svc, _, wf := setup(t)

		inputs := []StakeholderInput{
			{Name: "张三", Role: "Engineering Lead", Email: "zhangsan@example.com"},
			{Name: "赵六", Role: "Backup Approver", Email: "zhaoliu@example.com"},
		}
		_, err := svc.ReplaceStakeholders(context.Background(), wf.ID, inputs, "user-1")
		assert.NoError(t, err)

		var approvals []Approval
		db.Where("workflow_id = ?", wf.ID).Find(&approvals)
		assert.Len(t, approvals, 1)
		assert.Equal(t, "zhaoliu@example.com", approvals[0].ApproverEmail,
			"原审批人的 pending 记录应被撤掉")
	})

	t.Run("已终结工作流拒绝替换", func(t *testing.T) {
		db, svc, _, wf := setup(t)
		db.Model(&Workflow{}).Where("id = ?", wf.ID).Update("status", StatusClosed)

		_, err := svc.ReplaceStakeholders(context.Background(), wf.ID,
			validInitiateRequest().Stakeholders, "user-1")
		assertBusinessCode(t, err, common.CodeWorkflowNotActive)
	})

	t.Run("替换后无审批人拒绝", func(t *testing.T) {
		_, svc, _, wf := setup(t)

		inputs := []StakeholderInput{
			{Name: "张三", Role: "Engineering Lead", Email: "zhangsan@example.com"},
		}
		_, err := svc.ReplaceStakeholders(context.Background(), wf.ID, inputs, "user-1")
		assertBusinessCode(t, err, common.CodeApproverRequired)
	})
}

func TestListWorkflows(t *testing.T) {
	db := setupWorkflowTestDB(t)
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	svc := NewWorkflowService(db,
		WithIncidentGate(&fakeIncidentGate{}),
		WithScheduler(&fakeScheduler{}),
		WithClock(func() time.Time { return t0 }),
	)

	for i := 0; i < 3; i++ {
		req := validInitiateRequest()
		req.IncidentID = fmt.Sprintf("inc-%d", i)
		if i == 2 {
			req.Priority = PriorityLow
		}
		if _, err := svc.Initiate(context.Background(), req, "user-1"); err != nil {
			t.Fatalf("准备数据失败: %v", err)
		}
	}

	t.Run("按优先级过滤", func(t *testing.T) {
		resp, err := svc.ListWorkflows(context.Background(), &ListWorkflowsRequest{Priority: PriorityLow})
		assert.NoError(t, err)
		assert.Equal(t, int64(1), resp.Total)
	})

	t.Run("按事故过滤", func(t *testing.T) {
		resp, err := svc.ListWorkflows(context.Background(), &ListWorkflowsRequest{IncidentID: "inc-1"})
		assert.NoError(t, err)
		assert.Equal(t, int64(1), resp.Total)
	})

	t.Run("无过滤返回全部", func(t *testing.T) {
		resp, err := svc.ListWorkflows(context.Background(), &ListWorkflowsRequest{})
		assert.NoError(t, err)
		assert.Equal(t, int64(3), resp.Total)
	})
}

func TestGetWorkflowNotFound(t *testing.T) {
	db := setupWorkflowTestDB(t)
	svc := NewWorkflowService(db)

	_, err := svc.GetWorkflow(context.Background(), "missing")
	assertBusinessCode(t, err, common.CodeWorkflowNotFound)
}

// assertBusinessCode 断言错误携带指定业务码
func assertBusinessCode(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("期望业务错误 %d，实际无错误", code)
	}
	biz, ok := err.(*common.BusinessError)
	if !ok {
		t.Fatalf("期望业务错误 %d，实际为 %v", code, err)
	}
	if biz.Code != code {
		t.Fatalf("期望业务码 %d，实际为 %d", code, biz.Code)
	}
}
