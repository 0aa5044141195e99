package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"rcaflow/internal/notification"
	"rcaflow/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// ReminderDeliverer 提醒投递抽象，便于注入 mock
type ReminderDeliverer interface {
	DeliverByKey(ctx context.Context, key string) error
}

type ReminderHandler struct {
	deliverer ReminderDeliverer
	logger    *zap.Logger
}

func NewReminderHandler(deliverer ReminderDeliverer, logger *zap.Logger) *ReminderHandler {
	return &ReminderHandler{
		deliverer: deliverer,
		logger:    logger,
	}
}

// HandleDispatchReminder 延迟任务到期后按幂等键投递提醒
// 通知行可能已被轮询器抢先投递或随工作流终结撤销，这些情况投递方直接跳过
func (h *ReminderHandler) HandleDispatchReminder(ctx context.Context, t *asynq.Task) error {
	var p tasks.DispatchReminderPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}

	key := notification.ReminderKey(p.WorkflowID, p.Kind)
	if p.Kind == notification.KindBreach {
		key = notification.BreachKey(p.WorkflowID, p.Bucket)
	}

	h.logger.Debug("处理到期提醒任务",
		zap.String("workflow_id", p.WorkflowID),
		zap.String("kind", p.Kind),
	)

	if err := h.deliverer.DeliverByKey(ctx, key); err != nil {
		h.logger.Error("提醒投递失败",
			zap.String("workflow_id", p.WorkflowID),
			zap.String("kind", p.Kind),
			zap.Error(err),
		)
		return err
	}
	return nil
}
