package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{ID: "t-1", Type: task.Type(), NextProcessAt: time.Now()}, nil
}

func TestScheduleVerification_EnqueuesVerifyTask(t *testing.T) {
	q := &fakeEnqueuer{}
	s := NewScheduler(q, nil)

	require.NoError(t, s.ScheduleVerification(context.Background(), "tx-1", 5*time.Second))
	require.Len(t, q.tasks, 1)
	assert.Equal(t, TypeVerifyPayment, q.tasks[0].Type())

	p, err := ParseVerifyPaymentPayload(q.tasks[0])
	require.NoError(t, err)
	assert.Equal(t, "tx-1", p.TransactionID)

	values := map[asynq.OptionType]interface{}{}
	for _, o := range q.opts[0] {
		values[o.Type()] = o.Value()
	}
	assert.Equal(t, "verify:tx-1", values[asynq.TaskIDOpt])
	assert.Equal(t, VerifyMaxRetry, values[asynq.MaxRetryOpt])
	assert.Equal(t, 5*time.Second, values[asynq.ProcessInOpt])
}

func TestScheduleVerification_AlreadyQueued(t *testing.T) {
	s := NewScheduler(&fakeEnqueuer{err: asynq.ErrTaskIDConflict}, nil)
	assert.NoError(t, s.ScheduleVerification(context.Background(), "tx-1", time.Second))
}

func TestScheduleVerification_QueueDown(t *testing.T) {
	s := NewScheduler(&fakeEnqueuer{err: assert.AnError}, nil)
	assert.ErrorIs(t, s.ScheduleVerification(context.Background(), "tx-1", time.Second), assert.AnError)
}

func TestParseVerifyPaymentPayload_Rejects(t *testing.T) {
	_, err := ParseVerifyPaymentPayload(asynq.NewTask(TypeVerifyPayment, []byte(`{}`)))
	assert.Error(t, err)
	_, err = ParseVerifyPaymentPayload(asynq.NewTask(TypeVerifyPayment, []byte(`not json`)))
	assert.Error(t, err)
}
