package config

import "time"

// WorkerPoolConfig controls the bounded worker pool used for fan-out work
// within a scheduler tick: agent dispatch after filing classification and
// any other downstream concurrent work. The filing poller itself does not
// use the pool — it iterates entities sequentially at a fixed rate.
type WorkerPoolConfig struct {
	// WorkerCount is the number of pool goroutines (default: 8).
	WorkerCount int `yaml:"worker_count"`

	// TaskTimeout bounds any single task handed to the pool.
	TaskTimeout time.Duration `yaml:"task_timeout"`

	// GracefulShutdownTimeout is the max time to wait for in-flight tasks
	// to finish during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultWorkerPoolConfig returns the built-in worker pool defaults.
func DefaultWorkerPoolConfig() *WorkerPoolConfig {
	return &WorkerPoolConfig{
		WorkerCount:             8,
		TaskTimeout:             30 * time.Second,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}
