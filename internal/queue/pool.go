package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrQueueFull = errors.New("queue: full")
	ErrStopped   = errors.New("queue: stopped")
)

// PoolOptions sizes a Pool.
type PoolOptions struct {
	Workers    int
	Size       int
	JobTimeout time.Duration
	Logger     *zap.Logger
}

type item struct {
	job Job
	seq uint64
}

// jobHeap orders by priority, then submission order.
type jobHeap []item

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority < h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)   { *h = append(*h, x.(item)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// Pool is a bounded in-process priority queue drained by a fixed set of
// workers. It is safe for concurrent use.
type Pool struct {
	runner *Runner
	opts   PoolOptions
	logger *zap.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	items    jobHeap
	seq      uint64
	started  bool
	draining bool

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

// NewPool returns a Pool that executes jobs through runner.
func NewPool(runner *Runner, opts PoolOptions) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Size <= 0 {
		opts.Size = 1024
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	p := &Pool{runner: runner, opts: opts, logger: opts.Logger.Named("pool")}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Submit validates job and enqueues it. It never blocks on a full queue.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		submitTotal.WithLabelValues(string(job.Kind), "invalid").Inc()
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.draining {
		submitTotal.WithLabelValues(string(job.Kind), "stopped").Inc()
		return ErrStopped
	}
	if len(p.items) >= p.opts.Size {
		submitTotal.WithLabelValues(string(job.Kind), "full").Inc()
		return fmt.Errorf("%w (%d jobs)", ErrQueueFull, len(p.items))
	}
	p.seq++
	heap.Push(&p.items, item{job: job, seq: p.seq})
	queueDepth.Inc()
	submitTotal.WithLabelValues(string(job.Kind), "accepted").Inc()
	p.cond.Signal()
	return nil
}

// Len returns the number of jobs waiting.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Start launches the workers. Jobs run under a context derived from ctx.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.runCtx, p.runCancel = context.WithCancel(ctx)
	p.mu.Unlock()

	go func() {
		<-p.runCtx.Done()
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	}()
	for i := 0; i < p.opts.Workers; i++ {
		p.workerWG.Add(1)
		go p.worker(i)
	}
	p.logger.Info("Job pool started",
		zap.Int("workers", p.opts.Workers),
		zap.Int("size", p.opts.Size))
}

// Stop refuses new jobs and lets workers drain the queue until ctx is done,
// at which point in-flight jobs are cancelled and waiting jobs are dropped.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	p.draining = true
	started := p.started
	cancel := p.runCancel
	p.cond.Broadcast()
	p.mu.Unlock()
	if !started {
		return
	}

	done := make(chan struct{})
	go func() {
		p.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		cancel()
		p.mu.Lock()
		dropped := len(p.items)
		p.items = nil
		queueDepth.Sub(float64(dropped))
		p.cond.Broadcast()
		p.mu.Unlock()
		<-done
		if dropped > 0 {
			p.logger.Warn("Job pool stopped with jobs pending", zap.Int("dropped", dropped))
		}
	}
	cancel()
}

// next blocks until a job is available or the pool is drained.
func (p *Pool) next() (Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.items) == 0 && !p.draining && p.runCtx.Err() == nil {
		p.cond.Wait()
	}
	if len(p.items) == 0 || p.runCtx.Err() != nil {
		return Job{}, false
	}
	it := heap.Pop(&p.items).(item)
	queueDepth.Dec()
	return it.job, true
}

func (p *Pool) worker(id int) {
	defer p.workerWG.Done()
	for {
		job, ok := p.next()
		if !ok {
			return
		}
		p.execute(id, job)
	}
}

func (p *Pool) execute(id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Panic in job worker",
				zap.Int("worker", id),
				zap.String("kind", string(job.Kind)),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
		}
	}()

	ctx := p.runCtx
	if p.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.JobTimeout)
		defer cancel()
	}
	_ = p.runner.Run(ctx, job)
}
