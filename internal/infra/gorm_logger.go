package infra

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	gormLogger "gorm.io/gorm/logger"
)

// 超过该耗时的 SQL 记为慢查询
const slowQueryThreshold = 200 * time.Millisecond

// SQLLogger 把 GORM 日志桥接到 zap
// 记录未找到不算错误，工作流与审批的存在性检查大量依赖该语义
type SQLLogger struct {
	zap   *zap.Logger
	level gormLogger.LogLevel
}

// NewSQLLogger 创建 GORM 日志桥
func NewSQLLogger(logger *zap.Logger, level gormLogger.LogLevel) *SQLLogger {
	return &SQLLogger{zap: logger, level: level}
}

// LogMode 返回指定级别的新实例
func (l *SQLLogger) LogMode(level gormLogger.LogLevel) gormLogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *SQLLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Info {
		l.zap.Sugar().Infof(msg, data...)
	}
}

func (l *SQLLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Warn {
		l.zap.Sugar().Warnf(msg, data...)
	}
}

func (l *SQLLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Error {
		l.zap.Sugar().Errorf(msg, data...)
	}
}

// Trace 记录每条 SQL 的耗时与行数
func (l *SQLLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormLogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	switch {
	case err != nil && !errors.Is(err, gormLogger.ErrRecordNotFound):
		l.zap.Error("SQL 执行错误", append(fields, zap.Error(err))...)
	case elapsed > slowQueryThreshold:
		l.zap.Warn("SQL 慢查询", fields...)
	case l.level >= gormLogger.Info:
		l.zap.Debug("SQL 执行", fields...)
	}
}
