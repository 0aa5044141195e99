package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"rcaflow/internal/notification"
	"rcaflow/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap/zaptest"
)

type fakeDeliverer struct {
	called bool
	key    string
	retErr error
}

func (f *fakeDeliverer) DeliverByKey(ctx context.Context, key string) error {
	f.called = true
	f.key = key
	return f.retErr
}

func TestReminderHandlerHandleDispatchReminder_Success(t *testing.T) {
	deliverer := &fakeDeliverer{}
	h := NewReminderHandler(deliverer, zaptest.NewLogger(t))
	ctx := context.Background()
	payload, _ := json.Marshal(tasks.DispatchReminderPayload{WorkflowID: "wf-1", Kind: notification.KindMilestone4h})
	task := asynq.NewTask(tasks.TypeDispatchReminder, payload)
	if err := h.HandleDispatchReminder(ctx, task); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	want := notification.ReminderKey("wf-1", notification.KindMilestone4h)
	if !deliverer.called || deliverer.key != want {
		t.Fatalf("deliverer not invoked correctly: called=%v key=%s", deliverer.called, deliverer.key)
	}
}

func TestReminderHandlerHandleDispatchReminder_BreachKey(t *testing.T) {
	deliverer := &fakeDeliverer{}
	h := NewReminderHandler(deliverer, zaptest.NewLogger(t))
	ctx := context.Background()
	payload, _ := json.Marshal(tasks.DispatchReminderPayload{WorkflowID: "wf-2", Kind: notification.KindBreach, Bucket: 3})
	task := asynq.NewTask(tasks.TypeDispatchReminder, payload)
	if err := h.HandleDispatchReminder(ctx, task); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	want := notification.BreachKey("wf-2", 3)
	if deliverer.key != want {
		t.Fatalf("超期提醒应按档位生成幂等键: got %s want %s", deliverer.key, want)
	}
}

func TestReminderHandlerHandleDispatchReminder_DeliverError(t *testing.T) {
	expectedErr := errors.New("boom")
	deliverer := &fakeDeliverer{retErr: expectedErr}
	h := NewReminderHandler(deliverer, zaptest.NewLogger(t))
	ctx := context.Background()
	payload, _ := json.Marshal(tasks.DispatchReminderPayload{WorkflowID: "wf-3", Kind: notification.KindSLAWarning})
	task := asynq.NewTask(tasks.TypeDispatchReminder, payload)
	if err := h.HandleDispatchReminder(ctx, task); !errors.Is(err, expectedErr) {
		t.Fatalf("expected error %v, got %v", expectedErr, err)
	}
}

func TestReminderHandlerHandleDispatchReminder_InvalidPayload(t *testing.T) {
	deliverer := &fakeDeliverer{}
	h := NewReminderHandler(deliverer, zaptest.NewLogger(t))
	ctx := context.Background()
	task := asynq.NewTask(tasks.TypeDispatchReminder, []byte("not-json"))
	if err := h.HandleDispatchReminder(ctx, task); err == nil {
		t.Fatalf("expected error for invalid payload")
	}
	if deliverer.called {
		t.Fatalf("deliverer should not be called when payload invalid")
	}
}
