package common

import (
	"time"

	"gorm.io/gorm"
)

// ActiveOnly 仅查询活跃状态的记录
// 使用方法：db.Scopes(common.ActiveOnly()).Find(&workflows)
func ActiveOnly() func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ?", "active")
	}
}

// PendingOnly 仅查询待处理状态的记录
// 使用方法：db.Scopes(common.PendingOnly()).Find(&approvals)
func PendingOnly() func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("decision = ?", "pending")
	}
}

// DueBefore 筛选截止时间早于指定时刻的记录
// 使用方法：db.Scopes(common.ActiveOnly(), common.DueBefore(now)).Find(&workflows)
func DueBefore(t time.Time) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("due_at < ?", t)
	}
}

// ByWorkflow 按工作流ID过滤
func ByWorkflow(workflowID string) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("workflow_id = ?", workflowID)
	}
}
