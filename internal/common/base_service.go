package common

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// BaseService 服务基类，封装通用的数据库操作方法
// 所有业务Service可以嵌入此基类来复用通用功能
type BaseService struct {
	DB *gorm.DB
}

// NewBaseService 创建BaseService实例
func NewBaseService(db *gorm.DB) *BaseService {
	return &BaseService{DB: db}
}

// ============================================================================
// 分页
// ============================================================================

// ApplyPagination 应用分页条件
// page: 页码（从1开始）
// pageSize: 每页数量
func (s *BaseService) ApplyPagination(query *gorm.DB, page, pageSize int) *gorm.DB {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	offset := (page - 1) * pageSize
	return query.Offset(offset).Limit(pageSize)
}

// ApplyPaginationRequest 应用分页请求参数
func (s *BaseService) ApplyPaginationRequest(query *gorm.DB, req PaginationRequest) *gorm.DB {
	return s.ApplyPagination(query, req.Page, req.GetPageSize())
}

// ============================================================================
// 排序
// ============================================================================

// ApplySorting 应用排序条件
// sortBy: 排序字段
// sortOrder: 排序方向 (asc/desc)
// allowedFields: 允许的排序字段列表（安全检查）
func (s *BaseService) ApplySorting(query *gorm.DB, sortBy, sortOrder string, allowedFields []string) *gorm.DB {
	// 默认排序
	if sortBy == "" {
		return query.Order("created_at DESC")
	}

	// 字段白名单检查
	if len(allowedFields) > 0 {
		allowed := false
		for _, field := range allowedFields {
			if field == sortBy {
				allowed = true
				break
			}
		}
		if !allowed {
			return query.Order("created_at DESC")
		}
	}

	// 排序方向检查
	if sortOrder != "asc" && sortOrder != "desc" {
		sortOrder = "desc"
	}

	return query.Order(fmt.Sprintf("%s %s", sortBy, sortOrder))
}

// ============================================================================
// 过滤
// ============================================================================

// ApplyStatusFilter 应用状态过滤
func (s *BaseService) ApplyStatusFilter(query *gorm.DB, status string) *gorm.DB {
	if status != "" {
		return query.Where("status = ?", status)
	}
	return query
}

// ApplyFieldFilter 应用单字段等值过滤
func (s *BaseService) ApplyFieldFilter(query *gorm.DB, field, value string) *gorm.DB {
	if value != "" {
		return query.Where(fmt.Sprintf("%s = ?", field), value)
	}
	return query
}

// ApplyDateRangeFilter 应用日期范围过滤
// fieldName: 日期字段名称（如 created_at）
// dateRange: 日期范围
func (s *BaseService) ApplyDateRangeFilter(query *gorm.DB, fieldName string, dateRange *DateRange) *gorm.DB {
	if dateRange == nil {
		return query
	}

	if !dateRange.Start.IsZero() {
		query = query.Where(fmt.Sprintf("%s >= ?", fieldName), dateRange.Start)
	}

	if !dateRange.End.IsZero() {
		query = query.Where(fmt.Sprintf("%s <= ?", fieldName), dateRange.End)
	}

	return query
}

// ============================================================================
// 通用CRUD操作
// ============================================================================

// Create 创建记录
func (s *BaseService) Create(ctx context.Context, model interface{}) error {
	return s.DB.WithContext(ctx).Create(model).Error
}

// Update 更新记录
func (s *BaseService) Update(ctx context.Context, model interface{}) error {
	return s.DB.WithContext(ctx).Save(model).Error
}

// Delete 删除记录（硬删除）
func (s *BaseService) Delete(ctx context.Context, model interface{}) error {
	return s.DB.WithContext(ctx).Delete(model).Error
}

// FindByID 根据ID查询单条记录
func (s *BaseService) FindByID(ctx context.Context, model interface{}, id string) error {
	return s.DB.WithContext(ctx).Where("id = ?", id).First(model).Error
}

// FindByIDs 根据ID列表批量查询
func (s *BaseService) FindByIDs(ctx context.Context, model interface{}, ids []string) error {
	return s.DB.WithContext(ctx).Where("id IN ?", ids).Find(model).Error
}

// Exists 检查记录是否存在
func (s *BaseService) Exists(ctx context.Context, model interface{}, condition string, args ...interface{}) (bool, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(model).Where(condition, args...).Count(&count).Error
	return count > 0, err
}

// ============================================================================
// 事务支持
// ============================================================================

// Transaction 执行事务
func (s *BaseService) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.DB.WithContext(ctx).Transaction(fn)
}

// WithTransaction 使用指定的事务对象创建新的BaseService
func (s *BaseService) WithTransaction(tx *gorm.DB) *BaseService {
	return &BaseService{DB: tx}
}

// ============================================================================
// 计数与统计
// ============================================================================

// Count 统计记录数
func (s *BaseService) Count(ctx context.Context, model interface{}, condition string, args ...interface{}) (int64, error) {
	var count int64
	query := s.DB.WithContext(ctx).Model(model)
	if condition != "" {
		query = query.Where(condition, args...)
	}
	err := query.Count(&count).Error
	return count, err
}

// CountWithQuery 使用自定义查询统计
func (s *BaseService) CountWithQuery(ctx context.Context, query *gorm.DB) (int64, error) {
	var count int64
	err := query.WithContext(ctx).Count(&count).Error
	return count, err
}

// ============================================================================
// 工具方法
// ============================================================================

// GetDB 获取数据库实例
func (s *BaseService) GetDB() *gorm.DB {
	return s.DB
}

// GetDBWithContext 获取带上下文的数据库实例
func (s *BaseService) GetDBWithContext(ctx context.Context) *gorm.DB {
	return s.DB.WithContext(ctx)
}
