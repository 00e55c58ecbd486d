package chat

import (
	"context"
	"hash/crc32"
	"sync"
	"time"

	"PPRelay/tools/safe"

	"go.uber.org/zap"
)

type hookJob struct {
	name string
	fn   func(ctx context.Context) error
}

// HookRunner runs collaborator calls (presence, history, publish) off the
// connection goroutines. Jobs are sharded by key onto per-worker queues, so
// jobs sharing a key run one at a time in submit order. Submit never blocks.
type HookRunner struct {
	mu      sync.RWMutex
	closed  bool
	shards  []chan hookJob
	timeout time.Duration
	log     *zap.Logger
	wg      sync.WaitGroup
}

// NewHookRunner splits queue evenly across workers, at least one slot each.
func NewHookRunner(workers, queue int, timeout time.Duration, log *zap.Logger) *HookRunner {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 1024
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	per := queue / workers
	if per < 1 {
		per = 1
	}
	h := &HookRunner{shards: make([]chan hookJob, workers), timeout: timeout, log: log}
	for i := range h.shards {
		jobs := make(chan hookJob, per)
		h.shards[i] = jobs
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			for job := range jobs {
				h.run(job)
			}
		}()
	}
	return h
}

func (h *HookRunner) run(job hookJob) {
	safe.Run(h.log, job.name, func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		if err := job.fn(ctx); err != nil {
			h.log.Warn("hook failed", zap.String("hook", job.name), zap.Error(err))
		}
	})
}

// shardOf 与 kafka 分区路由一致：crc32(key) % n
func (h *HookRunner) shardOf(key string) chan hookJob {
	return h.shards[crc32.ChecksumIEEE([]byte(key))%uint32(len(h.shards))]
}

// Submit queues fn on the worker owning key and reports whether it was accepted.
func (h *HookRunner) Submit(key, name string, fn func(ctx context.Context) error) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return false
	}
	select {
	case h.shardOf(key) <- hookJob{name: name, fn: fn}:
		return true
	default:
		h.log.Warn("hook queue full, dropped", zap.String("hook", name), zap.String("key", key))
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (h *HookRunner) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for _, jobs := range h.shards {
		close(jobs)
	}
	h.mu.Unlock()
	h.wg.Wait()
}
