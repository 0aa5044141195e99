package workflow

import (
	"testing"
	"time"
)

func TestResolveSLAHours(t *testing.T) {
	tests := []struct {
		name         string
		workflowType string
		defaultHours int
		want         int
	}{
		{"紧急类型", "Emergency Response", 24, 4},
		{"加急类型", "Expedited Review", 24, 8},
		{"标准类型", "Standard RCA", 24, 24},
		{"扩展类型", "Extended Investigation", 24, 72},
		{"全面类型", "Comprehensive Analysis", 24, 72},
		{"大小写无关", "EMERGENCY fix", 24, 4},
		{"小时数提示优先于类型关键字", "Standard Review (6h)", 24, 6},
		{"大写 H 提示", "Custom Process (48H)", 24, 48},
		{"提示带空格", "Review (12 h)", 24, 12},
		{"未知类型用默认值", "Mystery Process", 36, 36},
		{"默认值非法时兜底24", "Mystery Process", 0, 24},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveSLAHours(tt.workflowType, tt.defaultHours)
			if got != tt.want {
				t.Errorf("ResolveSLAHours(%q, %d) = %d, 期望 %d",
					tt.workflowType, tt.defaultHours, got, tt.want)
			}
		})
	}
}

func TestComputeDueAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	t.Run("标准类型截止24小时", func(t *testing.T) {
		due := ComputeDueAt(now, "Standard RCA", 24)
		want := now.Add(24 * time.Hour)
		if !due.Equal(want) {
			t.Errorf("截止时间 = %v, 期望 %v", due, want)
		}
	})

	t.Run("紧急类型截止4小时", func(t *testing.T) {
		due := ComputeDueAt(now, "Emergency Hotfix", 24)
		want := now.Add(4 * time.Hour)
		if !due.Equal(want) {
			t.Errorf("截止时间 = %v, 期望 %v", due, want)
		}
	})

	t.Run("提示小时数覆盖类型", func(t *testing.T) {
		due := ComputeDueAt(now, "Emergency (2h)", 24)
		want := now.Add(2 * time.Hour)
		if !due.Equal(want) {
			t.Errorf("截止时间 = %v, 期望 %v", due, want)
		}
	})
}

func TestClassifyApprover(t *testing.T) {
	cases := map[string]bool{
		"Approver":          true,
		"Senior Approver":   true,
		"approval manager":  true,
		"Engineering Lead":  false,
		"Incident Reporter": false,
		"":                  false,
	}
	for role, want := range cases {
		if got := ClassifyApprover(role); got != want {
			t.Errorf("ClassifyApprover(%q) = %v, 期望 %v", role, got, want)
		}
	}
}
