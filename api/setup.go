package api

import (
	"os"
	"strings"
	"time"

	cronHandlers "rcaflow/api/handlers/cron"
	incidentHandlers "rcaflow/api/handlers/incidents"
	"rcaflow/api/handlers/workflows"
	"rcaflow/internal/audit"
	"rcaflow/internal/auth"
	"rcaflow/internal/config"
	"rcaflow/internal/incident"
	"rcaflow/internal/infra"
	"rcaflow/internal/infra/queue"
	"rcaflow/internal/logger"
	"rcaflow/internal/metrics"
	"rcaflow/internal/middleware"
	"rcaflow/internal/notification"
	"rcaflow/internal/poller"
	"rcaflow/internal/worker"
	workflowSvc "rcaflow/internal/workflow"
	"rcaflow/internal/workflow/approval"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AppContainer 应用依赖容器
type AppContainer struct {
	Config     *config.Config
	DB         *gorm.DB
	JWTService *auth.JWTService
	Queue      queue.Client
	Scheduler  *notification.Scheduler
	Poller     *poller.Poller
	Recorder   *audit.Recorder
}

// Handlers 全部 HTTP Handler
type Handlers struct {
	Incident *incidentHandlers.IncidentHandler
	Workflow *workflows.WorkflowHandler
	Approval *workflows.ApprovalHandler
	Cron     *cronHandlers.CronHandler
}

// SetupRouter 设置并返回 Gin 路由、Worker 服务器与对账轮询器
func SetupRouter(db *gorm.DB, cfg *config.Config) (*gin.Engine, *worker.Server, *poller.Poller) {
	router := gin.New()

	// 统一归一化 Redis 配置，优先使用 cfg.Redis，再回退到环境变量
	redisCfg := normalizeRedisConfig(cfg.Redis)
	cfg.Redis = redisCfg

	// Redis 可达才启用推模式延迟队列，否则降级为 NoopClient，
	// 提醒全部交由对账轮询器兜底投递
	var queueClient queue.Client
	if _, err := infra.InitRedis(&redisCfg); err != nil {
		logger.Warn("提醒队列 Redis 不可用，推模式已降级，提醒由轮询器兜底",
			zap.Error(err))
		queueClient = queue.NewNoopClient()
	} else {
		queueClient = queue.NewClient(redisCfg)
	}

	// 初始化认证服务
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	jwtSecret := strings.TrimSpace(cfg.Auth.JWTSecret)
	if jwtSecret == "" {
		jwtSecret = strings.TrimSpace(os.Getenv("JWT_SECRET_KEY"))
	}
	if jwtSecret == "" {
		// 生产模式必须显式配置密钥，防止使用弱默认值
		if strings.EqualFold(cfg.Server.Mode, "release") || strings.EqualFold(appEnv, "prod") || strings.EqualFold(appEnv, "production") {
			logger.Fatal("JWT 密钥未配置，生产环境禁止使用默认密钥")
		}
		jwtSecret = "default_jwt_secret_key_change_in_production"
		logger.Warn("JWT 密钥未配置，已回退为开发默认值，请在生产环境设置强随机密钥")
	}
	jwtService := auth.NewJWTService(jwtSecret, "rcaflow",
		time.Duration(cfg.Auth.ExpireHours)*time.Hour)

	// 审计记录器
	recorder := audit.NewRecorder(db)

	// 通知器：email/webhook 未启用时对应通道降级为落库成功
	var emailCfg *notification.EmailConfig
	if cfg.Notify.Email.Enabled {
		emailCfg = &notification.EmailConfig{
			SMTPHost: cfg.Notify.Email.SMTPHost,
			SMTPPort: cfg.Notify.Email.SMTPPort,
			Username: cfg.Notify.Email.Username,
			Password: cfg.Notify.Email.Password,
			From:     cfg.Notify.Email.From,
		}
	}
	var webhookCfg *notification.WebhookConfig
	if cfg.Notify.Webhook.Enabled {
		webhookCfg = &notification.WebhookConfig{
			DefaultURL: cfg.Notify.Webhook.URL,
			Timeout:    time.Duration(cfg.Notify.Webhook.TimeoutSeconds) * time.Second,
		}
	}
	notifier := notification.NewMultiNotifier(emailCfg, webhookCfg)

	// 通知排期服务
	scheduler := notification.NewScheduler(db,
		notification.WithNotifier(notifier),
		notification.WithQueue(queueClient),
	)

	// 事故服务
	incidentService := incident.NewIncidentService(db)

	// 工作流服务
	workflowService := workflowSvc.NewWorkflowService(db,
		workflowSvc.WithIncidentGate(incidentService),
		workflowSvc.WithScheduler(scheduler),
		workflowSvc.WithRecorder(recorder),
		workflowSvc.WithSLADefaultHours(cfg.SLA.DefaultHours),
	)

	// 审批服务
	approvalGate := approval.NewGate(db,
		approval.WithNotifier(scheduler),
		approval.WithRecorder(recorder),
	)

	// 对账轮询器
	slaPoller := poller.New(db, scheduler,
		poller.WithInterval(time.Duration(cfg.Poller.IntervalMinutes)*time.Minute),
	)

	// Worker 服务器（消费 asynq 延迟提醒任务）
	workerServer := worker.NewServer(redisCfg, scheduler, logger.Get())

	container := &AppContainer{
		Config:     cfg,
		DB:         db,
		JWTService: jwtService,
		Queue:      queueClient,
		Scheduler:  scheduler,
		Poller:     slaPoller,
		Recorder:   recorder,
	}

	handlers := &Handlers{
		Incident: incidentHandlers.NewIncidentHandler(incidentService),
		Workflow: workflows.NewWorkflowHandler(workflowService, scheduler, recorder),
		Approval: workflows.NewApprovalHandler(approvalGate),
		Cron:     cronHandlers.NewCronHandler(slaPoller, recorder),
	}

	// 全局中间件
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(RequestLogger())
	router.Use(CORS())
	router.Use(metrics.PrometheusMiddleware())

	// 系统探针与指标
	router.GET("/health", HealthCheck(db))
	router.GET("/ready", ReadinessCheck(db))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	RegisterRoutes(router, container, handlers)

	return router, workerServer, slaPoller
}
