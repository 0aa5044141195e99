package common

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

// baseTestModel 测试用的模型
type baseTestModel struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:255"`
	Status    string `gorm:"size:50"`
	Priority  string `gorm:"size:50"`
	DueAt     time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// setupBaseTestDB 创建测试数据库
func setupBaseTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:base_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	if err := db.AutoMigrate(&baseTestModel{}); err != nil {
		t.Fatalf("迁移测试表失败: %v", err)
	}
	return db
}

// seedBaseTestData 插入测试数据
func seedBaseTestData(t *testing.T, db *gorm.DB) {
	t.Helper()
	now := time.Now().UTC()
	rows := []baseTestModel{
		{Name: "标准流程", Status: "active", Priority: "medium", DueAt: now.Add(24 * time.Hour)},
		{Name: "紧急流程", Status: "active", Priority: "critical", DueAt: now.Add(4 * time.Hour)},
		{Name: "已关闭流程", Status: "closed", Priority: "low", DueAt: now.Add(-2 * time.Hour)},
		{Name: "已拒绝流程", Status: "rejected", Priority: "medium", DueAt: now.Add(-10 * time.Hour)},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("插入测试数据失败: %v", err)
		}
	}
}

func TestApplyStatusFilter(t *testing.T) {
	db := setupBaseTestDB(t)
	seedBaseTestData(t, db)
	service := NewBaseService(db)

	tests := []struct {
		name        string
		status      string
		expectCount int64
	}{
		{"过滤active", "active", 2},
		{"过滤closed", "closed", 1},
		{"不过滤", "", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query := service.ApplyStatusFilter(db.Model(&baseTestModel{}), tt.status)
			var count int64
			assert.NoError(t, query.Count(&count).Error)
			assert.Equal(t, tt.expectCount, count)
		})
	}
}

func TestApplyFieldFilter(t *testing.T) {
	db := setupBaseTestDB(t)
	seedBaseTestData(t, db)
	service := NewBaseService(db)

	query := service.ApplyFieldFilter(db.Model(&baseTestModel{}), "priority", "medium")
	var count int64
	assert.NoError(t, query.Count(&count).Error)
	assert.Equal(t, int64(2), count)

	// 空值不过滤
	query = service.ApplyFieldFilter(db.Model(&baseTestModel{}), "priority", "")
	assert.NoError(t, query.Count(&count).Error)
	assert.Equal(t, int64(4), count)
}

func TestApplyPagination(t *testing.T) {
	db := setupBaseTestDB(t)
	seedBaseTestData(t, db)
	service := NewBaseService(db)

	var rows []baseTestModel
	query := service.ApplyPagination(db.Model(&baseTestModel{}).Order("id"), 2, 3)
	assert.NoError(t, query.Find(&rows).Error)
	assert.Len(t, rows, 1, "第二页应只剩1条")

	// 非法参数回退默认值
	rows = nil
	query = service.ApplyPagination(db.Model(&baseTestModel{}).Order("id"), 0, -5)
	assert.NoError(t, query.Find(&rows).Error)
	assert.Len(t, rows, 4)
}

func TestApplySorting(t *testing.T) {
	db := setupBaseTestDB(t)
	seedBaseTestData(t, db)
	service := NewBaseService(db)

	var rows []baseTestModel
	query := service.ApplySorting(db.Model(&baseTestModel{}), "due_at", "asc", []string{"due_at", "created_at"})
	assert.NoError(t, query.Find(&rows).Error)
	assert.Equal(t, "已拒绝流程", rows[0].Name)

	// 不在白名单的字段回退默认排序
	rows = nil
	query = service.ApplySorting(db.Model(&baseTestModel{}), "name; DROP TABLE", "asc", []string{"due_at"})
	assert.NoError(t, query.Find(&rows).Error)
	assert.Len(t, rows, 4)
}

func TestApplyDateRangeFilter(t *testing.T) {
	db := setupBaseTestDB(t)
	seedBaseTestData(t, db)
	service := NewBaseService(db)

	now := time.Now().UTC()
	query := service.ApplyDateRangeFilter(db.Model(&baseTestModel{}), "due_at", &DateRange{
		Start: now.Add(-24 * time.Hour),
		End:   now,
	})
	var count int64
	assert.NoError(t, query.Count(&count).Error)
	assert.Equal(t, int64(2), count, "应命中两个已过期的流程")
}

func TestBaseCRUD(t *testing.T) {
	db := setupBaseTestDB(t)
	service := NewBaseService(db)
	ctx := context.Background()

	m := &baseTestModel{Name: "新建流程", Status: "active"}
	assert.NoError(t, service.Create(ctx, m))
	assert.NotZero(t, m.ID)

	var loaded baseTestModel
	assert.NoError(t, service.FindByID(ctx, &loaded, fmt.Sprint(m.ID)))
	assert.Equal(t, "新建流程", loaded.Name)

	exists, err := service.Exists(ctx, &baseTestModel{}, "name = ?", "新建流程")
	assert.NoError(t, err)
	assert.True(t, exists)

	count, err := service.Count(ctx, &baseTestModel{}, "status = ?", "active")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestTransaction(t *testing.T) {
	db := setupBaseTestDB(t)
	service := NewBaseService(db)
	ctx := context.Background()

	// 事务内报错应整体回滚
	err := service.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&baseTestModel{Name: "事务内记录"}).Error; err != nil {
			return err
		}
		return fmt.Errorf("强制回滚")
	})
	assert.Error(t, err)

	var count int64
	assert.NoError(t, db.Model(&baseTestModel{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}
