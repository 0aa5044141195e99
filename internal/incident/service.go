package incident

import (
	"context"
	"errors"
	"fmt"

	"rcaflow/internal/common"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IncidentService 事故管理服务
type IncidentService struct {
	db *gorm.DB
}

// NewIncidentService 创建 IncidentService 实例
func NewIncidentService(db *gorm.DB) *IncidentService {
	return &IncidentService{db: db}
}

// CreateIncidentRequest 上报事故请求
type CreateIncidentRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// CreateIncident 上报事故
func (s *IncidentService) CreateIncident(ctx context.Context, req *CreateIncidentRequest, reportedBy string) (*Incident, error) {
	if req.Title == "" {
		return nil, common.NewBusinessError(common.CodeInvalidRequest, "事故标题不能为空")
	}

	severity := req.Severity
	switch severity {
	case "":
		severity = SeverityMedium
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		return nil, common.NewBusinessError(common.CodeInvalidRequest,
			fmt.Sprintf("无效的严重度: %s", severity))
	}

	inc := &Incident{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Severity:    severity,
		Status:      StatusOpen,
		ReportedBy:  reportedBy,
	}

	if err := s.db.WithContext(ctx).Create(inc).Error; err != nil {
		return nil, fmt.Errorf("创建事故失败: %w", err)
	}

	return inc, nil
}

// GetIncident 查询单个事故
func (s *IncidentService) GetIncident(ctx context.Context, id string) (*Incident, error) {
	var inc Incident
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&inc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewBusinessErrorWithCode(common.CodeIncidentNotFound)
		}
		return nil, fmt.Errorf("查询事故失败: %w", err)
	}
	return &inc, nil
}

// EnsureOpen 校验事故存在且未终结，工作流发起前调用
func (s *IncidentService) EnsureOpen(ctx context.Context, id string) error {
	inc, err := s.GetIncident(ctx, id)
	if err != nil {
		return err
	}
	if inc.IsTerminal() {
		return common.NewBusinessErrorWithCode(common.CodeIncidentClosed)
	}
	return nil
}

// MarkInvestigating 事故挂接工作流后置为调查中
// 仅 open 状态的事故会被更新，其余状态保持不变
func (s *IncidentService) MarkInvestigating(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).
		Model(&Incident{}).
		Where("id = ? AND status = ?", id, StatusOpen).
		Update("status", StatusInvestigating).Error
}
