package worker

import (
	"context"

	"rcaflow/internal/config"
	"rcaflow/internal/infra/queue"
	"rcaflow/internal/worker/handlers"
	"rcaflow/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

func NewServer(
	cfg config.RedisConfig,
	dispatcher handlers.ReminderDeliverer,
	logger *zap.Logger,
) *Server {
	srv := asynq.NewServer(
		queue.ConnOpt(cfg),
		asynq.Config{
			Concurrency: 10, // 并发 worker 数
			Queues: map[string]int{
				queue.QueueReminders: 5,
				"default":            1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("任务执行失败",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()

	// 注册提醒投递处理器
	reminderHandler := handlers.NewReminderHandler(dispatcher, logger)
	mux.HandleFunc(tasks.TypeDispatchReminder, reminderHandler.HandleDispatchReminder)

	return &Server{
		server: srv,
		mux:    mux,
		logger: logger,
	}
}

// Run 启动 Worker 服务器
func (s *Server) Run() error {
	s.logger.Info("Worker 服务器启动中...")
	return s.server.Run(s.mux)
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("Worker 服务器启动中 (后台)...")
	return s.server.Start(s.mux)
}

// Shutdown 停止 Worker 服务器
func (s *Server) Shutdown() {
	s.logger.Info("Worker 服务器停止中...")
	s.server.Shutdown()
}
