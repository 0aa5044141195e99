package incident

import "rcaflow/internal/common"

// 事故状态
const (
	StatusOpen          = "open"          // 已上报，待处理
	StatusInvestigating = "investigating" // 已挂接根因分析工作流
	StatusResolved      = "resolved"      // 已定位并修复
	StatusClosed        = "closed"        // 已归档
)

// 事故严重度
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Incident 事故记录
type Incident struct {
	ID          string `json:"id" gorm:"primaryKey;size:36"`
	Title       string `json:"title" gorm:"size:255;not null"`
	Description string `json:"description" gorm:"type:text"`
	Severity    string `json:"severity" gorm:"size:20;not null;default:medium;index"`
	Status      string `json:"status" gorm:"size:20;not null;default:open;index"`
	ReportedBy  string `json:"reportedBy" gorm:"size:100"`
	common.TimestampModel
}

// TableName 表名
func (Incident) TableName() string {
	return "incidents"
}

// IsTerminal 事故是否已终结
func (i *Incident) IsTerminal() bool {
	return i.Status == StatusResolved || i.Status == StatusClosed
}
