package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rcaflow/internal/config"
	"rcaflow/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// QueueReminders 提醒任务专用队列名
const QueueReminders = "reminders"

// Client 延迟任务队列客户端接口
// Redis 不可用时由 NoopClient 顶替，提醒投递完全退化为轮询对账
type Client interface {
	// EnqueueReminder 按计划时间入队一条提醒投递任务
	// taskID 即幂等键，重复入队同一 taskID 视为成功
	EnqueueReminder(payload tasks.DispatchReminderPayload, taskID string, processAt time.Time) error
	// CancelReminder 撤销尚未执行的提醒任务，任务不存在不算错误
	CancelReminder(taskID string) error
	Close() error
}

type asynqClient struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// ConnOpt 按配置的部署模式构建 asynq 连接参数
// standalone/sentinel/cluster 与 infra.InitRedis 的模式取值保持一致
func ConnOpt(cfg config.RedisConfig) asynq.RedisConnOpt {
	switch cfg.Mode {
	case "sentinel":
		return asynq.RedisFailoverClientOpt{
			MasterName:       cfg.MasterName,
			SentinelAddrs:    cfg.SentinelAddrs,
			SentinelPassword: cfg.SentinelPassword,
			Password:         cfg.Password,
			DB:               cfg.DB,
		}
	case "cluster":
		return asynq.RedisClusterClientOpt{
			Addrs:    cfg.ClusterAddrs,
			Password: cfg.Password,
		}
	}
	return asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewClient 创建任务队列客户端
func NewClient(cfg config.RedisConfig) Client {
	opt := ConnOpt(cfg)

	return &asynqClient{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
	}
}

func (c *asynqClient) EnqueueReminder(payload tasks.DispatchReminderPayload, taskID string, processAt time.Time) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeDispatchReminder, data)

	_, err = c.client.Enqueue(task,
		asynq.TaskID(taskID),
		asynq.ProcessAt(processAt),
		asynq.MaxRetry(3),
		asynq.Timeout(time.Minute),
		asynq.Queue(QueueReminders),
	)
	if err != nil {
		// 同一 taskID 已在队列中，幂等成功
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue task failed: %w", err)
	}

	return nil
}

func (c *asynqClient) CancelReminder(taskID string) error {
	err := c.inspector.DeleteTask(QueueReminders, taskID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil
		}
		return fmt.Errorf("delete task failed: %w", err)
	}
	return nil
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}

// NoopClient 降级实现，所有操作直接成功
// 推模式失效后提醒由对账轮询器兜底投递
type NoopClient struct{}

// NewNoopClient 创建降级客户端
func NewNoopClient() Client {
	return &NoopClient{}
}

func (c *NoopClient) EnqueueReminder(tasks.DispatchReminderPayload, string, time.Time) error {
	return nil
}

func (c *NoopClient) CancelReminder(string) error { return nil }

func (c *NoopClient) Close() error { return nil }
