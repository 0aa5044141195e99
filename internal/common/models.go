package common

import "time"

// TimestampModel 时间戳基础模型
// 提供统一的创建时间和更新时间字段
type TimestampModel struct {
	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}
