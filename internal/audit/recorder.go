package audit

import (
	"context"
	"encoding/json"
	"time"

	"rcaflow/internal/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog 审计日志记录
type AuditLog struct {
	ID         string         `json:"id" gorm:"primaryKey;size:36"`
	ActorID    string         `json:"actorId" gorm:"size:100;index"`
	ActorEmail string         `json:"actorEmail" gorm:"size:255"`
	Action     string         `json:"action" gorm:"size:100;index"`
	Resource   string         `json:"resource" gorm:"size:100"`
	ResourceID string         `json:"resourceId" gorm:"size:36;index"`
	Details    datatypes.JSON `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt" gorm:"not null;autoCreateTime;index"`
}

// TableName 表名
func (AuditLog) TableName() string {
	return "audit_logs"
}

// Recorder 审计记录器，将业务事件写入 audit_logs 表
//
// 写入失败时只记日志不向上抛错，避免业务流程因审计失败而中断
type Recorder struct {
	db *gorm.DB
}

// NewRecorder 创建审计记录器
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Record 记录一条审计事件
func (r *Recorder) Record(ctx context.Context, actorID, actorEmail string, event EventType, resource, resourceID string, details any) {
	var detailsJSON datatypes.JSON
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			detailsJSON = b
		}
	}

	entry := &AuditLog{
		ID:         uuid.NewString(),
		ActorID:    actorID,
		ActorEmail: actorEmail,
		Action:     string(event),
		Resource:   resource,
		ResourceID: resourceID,
		Details:    detailsJSON,
	}

	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		logger.WithContext(ctx).Warn("审计日志写入失败",
			zap.String("action", string(event)),
			zap.String("resource_id", resourceID),
			zap.Error(err),
		)
	}
}

// ListByResource 查询某资源的审计轨迹（按时间倒序）
func (r *Recorder) ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]AuditLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var logs []AuditLog
	err := r.db.WithContext(ctx).
		Where("resource = ? AND resource_id = ?", resource, resourceID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
