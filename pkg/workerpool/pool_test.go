package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/medxprts/spacmon/pkg/config"
)

func testConfig() *config.WorkerPoolConfig {
	return &config.WorkerPoolConfig{
		WorkerCount:             4,
		TaskTimeout:             time.Second,
		GracefulShutdownTimeout: time.Second,
	}
}

func TestPool_RunsSubmittedTasks(t *testing.T) {
	p := New(testConfig())
	p.Start(context.Background())

	var count int64
	for i := 0; i < 20; i++ {
		p.Submit(func(ctx context.Context) { atomic.AddInt64(&count, 1) })
	}
	p.Stop()

	assert.Equal(t, int64(20), atomic.LoadInt64(&count))
}

func TestPool_TaskPanicDoesNotKillWorker(t *testing.T) {
	p := New(testConfig())
	p.Start(context.Background())

	var ran int64
	p.Submit(func(ctx context.Context) { panic("boom") })
	p.Submit(func(ctx context.Context) { atomic.AddInt64(&ran, 1) })
	p.Stop()

	assert.Equal(t, int64(1), atomic.LoadInt64(&ran))
}

func TestPool_TaskReceivesTimeoutBoundContext(t *testing.T) {
	cfg := testConfig()
	cfg.TaskTimeout = 10 * time.Millisecond
	p := New(cfg)
	p.Start(context.Background())

	done := make(chan bool, 1)
	p.Submit(func(ctx context.Context) {
		<-ctx.Done()
		done <- true
	})
	p.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task context was never cancelled by the timeout")
	}
}
