package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"
)

// FakeEnqueuer records tasks instead of pushing them to redis.
type FakeEnqueuer struct {
	mu    sync.Mutex
	Tasks []*asynq.Task
	Err   error
}

func (f *FakeEnqueuer) Enqueue(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	f.Tasks = append(f.Tasks, task)
	return &asynq.TaskInfo{ID: fmt.Sprintf("task-%d", len(f.Tasks)), Type: task.Type()}, nil
}

func (f *FakeEnqueuer) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Tasks)
}

// FakeSequence hands out deterministic codes.
type FakeSequence struct {
	mu  sync.Mutex
	seq int
}

func (f *FakeSequence) NextRunCode(_ context.Context, _ string) (string, error) {
	return f.next("RCN"), nil
}

func (f *FakeSequence) NextPayoutCode(_ context.Context, _ string) (string, error) {
	return f.next("PAY"), nil
}

func (f *FakeSequence) next(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("%s-TEST-%04d", prefix, f.seq)
}
