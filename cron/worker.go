package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hospital/config"
	"hospital/services/billing"
	"hospital/services/payment"
	"hospital/services/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// staleSweepSpec re-queues verifications for payments nobody is polling any more.
const staleSweepSpec = "@every 10m"

// Worker bundles what the background jobs act on.
type Worker struct {
	Ledger      billing.Ledger
	Coordinator *payment.Coordinator
	Tracker     *payment.Tracker
	Scheduler   payment.VerificationScheduler
	Logger      *zap.Logger
	Clock       func() time.Time
}

// RedisOpt is the asynq connection on REDIS_QUEUE_DB.
func RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisQueueDB,
	}
}

// InitWorker runs the asynq server and the periodic scheduler in the background.
func InitWorker(w *Worker) (*asynq.Server, *asynq.Scheduler) {
	logger := w.logger()

	srv := asynq.NewServer(
		RedisOpt(),
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"default": 1,
			},
			RetryDelayFunc: retryDelay,
			Logger:         logger.Sugar(),
		},
	)

	scheduler := asynq.NewScheduler(RedisOpt(), &asynq.SchedulerOpts{Logger: logger.Sugar()})
	if _, err := scheduler.Register(config.AppConfig.OverdueSweepSpec, tasks.NewOverdueSweepTask()); err != nil {
		logger.Fatal("[Worker] invalid overdue sweep spec",
			zap.String("spec", config.AppConfig.OverdueSweepSpec), zap.Error(err))
	}
	if _, err := scheduler.Register(staleSweepSpec, tasks.NewStaleSweepTask()); err != nil {
		logger.Fatal("[Worker] invalid stale sweep spec", zap.Error(err))
	}

	mux := w.ServeMux()

	go monitorRedisConnection(logger)

	go func() {
		logger.Info("[Worker] starting async worker")
		const maxAttempts = 5

		for attempts := 1; attempts <= maxAttempts; attempts++ {
			if err := srv.Run(mux); err != nil {
				logger.Error("[Worker] failed to start worker",
					zap.Int("attempt", attempts), zap.Int("max_attempts", maxAttempts), zap.Error(err))

				if attempts == maxAttempts {
					logger.Fatal("[Worker] max retry attempts reached")
				}
				time.Sleep(time.Duration(attempts*2) * time.Second)
			} else {
				break
			}
		}
	}()

	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Error("[Worker] scheduler stopped", zap.Error(err))
		}
	}()

	return srv, scheduler
}

// ServeMux routes task types to handlers.
func (w *Worker) ServeMux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeOverdueSweep, w.handleOverdueSweep)
	mux.HandleFunc(tasks.TypeVerifyPayment, w.handleVerifyPayment)
	mux.HandleFunc(tasks.TypeStaleSweep, w.handleStaleSweep)
	return mux
}

func (w *Worker) handleOverdueSweep(ctx context.Context, _ *asynq.Task) error {
	n, err := w.Ledger.MarkOverdue(ctx, w.now())
	if err != nil {
		w.logger().Error("[OverdueSweep] failed", zap.Error(err))
		return err
	}
	if n > 0 {
		w.logger().Info("[OverdueSweep] invoices marked overdue", zap.Int64("count", n))
	}
	return nil
}

func (w *Worker) handleVerifyPayment(ctx context.Context, task *asynq.Task) error {
	p, err := tasks.ParseVerifyPaymentPayload(task)
	if err != nil {
		w.logger().Error("[VerifyPayment] invalid payload", zap.Error(err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	log := w.logger().With(zap.String("transaction_id", p.TransactionID))

	tx, err := w.Coordinator.VerifyTransaction(ctx, p.TransactionID)
	switch {
	case errors.Is(err, payment.ErrTransactionNotFound):
		log.Warn("[VerifyPayment] transaction not found")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	case errors.Is(err, payment.ErrVerificationTimeout):
		log.Info("[VerifyPayment] still unverified; will retry")
		return err
	case err != nil:
		log.Warn("[VerifyPayment] verification failed", zap.Error(err))
		return err
	}

	log.Info("[VerifyPayment] verified", zap.String("status", string(tx.Status)))
	return nil
}

func (w *Worker) handleStaleSweep(ctx context.Context, _ *asynq.Task) error {
	unsettled, err := w.Tracker.UnsettledCompleted(ctx, w.Coordinator.PollInterval(), 200)
	if err != nil {
		return err
	}
	settled := 0
	for i := range unsettled {
		if err := w.Tracker.Settle(ctx, &unsettled[i]); err != nil {
			w.logger().Error("[StaleSweep] failed to settle completed payment",
				zap.String("transaction_id", unsettled[i].ID),
				zap.String("invoice_id", unsettled[i].InvoiceID),
				zap.Error(err))
			continue
		}
		settled++
	}
	if settled > 0 {
		w.logger().Info("[StaleSweep] completed payments settled", zap.Int("count", settled))
	}

	stale, err := w.Tracker.StalePending(ctx, w.Coordinator.PollTimeout(), 200)
	if err != nil {
		return err
	}
	for _, tx := range stale {
		if tx.CheckoutRequestID == "" {
			continue
		}
		if err := w.Scheduler.ScheduleVerification(ctx, tx.ID, 0); err != nil {
			w.logger().Warn("[StaleSweep] failed to schedule verification",
				zap.String("transaction_id", tx.ID), zap.Error(err))
		}
	}
	if len(stale) > 0 {
		w.logger().Info("[StaleSweep] pending payments re-queued", zap.Int("count", len(stale)))
	}
	return nil
}

// retryDelay backs verification off from 30s up to 30m.
func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	if task.Type() != tasks.TypeVerifyPayment {
		return asynq.DefaultRetryDelayFunc(n, err, task)
	}
	d := 30 * time.Second
	for i := 0; i < n && d < 30*time.Minute; i++ {
		d *= 2
	}
	if d > 30*time.Minute {
		d = 30 * time.Minute
	}
	return d
}

func (w *Worker) now() time.Time {
	if w.Clock != nil {
		return w.Clock()
	}
	return time.Now()
}

func (w *Worker) logger() *zap.Logger {
	if w.Logger == nil {
		return zap.NewNop()
	}
	return w.Logger
}

// monitorRedisConnection pings the queue Redis periodically to detect failures at runtime.
func monitorRedisConnection(logger *zap.Logger) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisQueueDB,
	})

	ctx := context.Background()

	for {
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("[Worker] Redis connection lost", zap.Error(err))
		}
		time.Sleep(10 * time.Second)
	}
}
