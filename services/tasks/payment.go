package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	TypeOverdueSweep  = "billing:overdue_sweep"
	TypeVerifyPayment = "payment:verify"
	TypeStaleSweep    = "payment:stale_sweep"
)

// VerifyMaxRetry bounds how long an unverified payment keeps being queried.
const VerifyMaxRetry = 12

type VerifyPaymentPayload struct {
	TransactionID string `json:"transactionId"`
}

func NewVerifyPaymentTask(txID string, delay time.Duration) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(VerifyPaymentPayload{TransactionID: txID})
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeVerifyPayment, b)
	opts := []asynq.Option{
		asynq.ProcessIn(delay),
		asynq.MaxRetry(VerifyMaxRetry),
		asynq.TaskID("verify:" + txID),
		asynq.Timeout(time.Minute),
	}
	return task, opts, nil
}

func ParseVerifyPaymentPayload(task *asynq.Task) (VerifyPaymentPayload, error) {
	var p VerifyPaymentPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return p, err
	}
	if p.TransactionID == "" {
		return p, errors.New("verify payload: missing transactionId")
	}
	return p, nil
}

func NewOverdueSweepTask() *asynq.Task {
	return asynq.NewTask(TypeOverdueSweep, nil)
}

func NewStaleSweepTask() *asynq.Task {
	return asynq.NewTask(TypeStaleSweep, nil)
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler defers payment verifications onto the asynq queue.
type Scheduler struct {
	client Enqueuer
	logger *zap.Logger
}

func NewScheduler(client Enqueuer, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{client: client, logger: logger}
}

// ScheduleVerification enqueues one verification per transaction; a verification
// already queued for txID is left in place.
func (s *Scheduler) ScheduleVerification(ctx context.Context, txID string, delay time.Duration) error {
	task, opts, err := NewVerifyPaymentTask(txID, delay)
	if err != nil {
		return err
	}
	info, err := s.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue verification for %s: %w", txID, err)
	}
	s.logger.Info("payment verification scheduled",
		zap.String("transaction_id", txID),
		zap.String("task_id", info.ID),
		zap.Time("process_at", info.NextProcessAt))
	return nil
}
