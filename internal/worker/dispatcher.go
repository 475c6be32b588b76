package worker

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"
)

// DispatcherConfig sizes the worker pool and the submission queue.
type DispatcherConfig struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

type keyQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher runs backend jobs on an elastic pool. Jobs sharing a key run in
// submission order relative to each other, and keys are served round-robin so
// one busy client cannot starve the rest.
type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job // interface for outer jobs get in the dispatcher
	logger   *slog.Logger

	mu        sync.Mutex
	queues    map[string]*keyQueue // job queue for each key
	ready     *list.List           // LRU queue storing keys
	positions map[string]*list.Element

	quit      chan struct{}
	closeOnce sync.Once
}

type Stats struct {
	Running int `json:"running"`
	Idle    int `json:"idle"`
	Queued  int `json:"queued"`
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		pool:      newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout),
		jobQueue:  make(chan Job, queueSize),
		logger:    logger.With("component", "dispatcher"),
		quit:      make(chan struct{}),
	}

	// Warm up workers.
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues fn under key and waits for its result. It fails fast with
// ErrDispatcherBusy when the queue is full, and returns ctx.Err() if ctx ends
// before the job has run.
func (d *Dispatcher) Submit(ctx context.Context, key string, fn func(context.Context) error) error {
	select {
	case <-d.quit:
		return ErrDispatcherClosed
	default:
	}
	job := Job{Key: key, ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case d.jobQueue <- job:
	default:
		return ErrDispatcherBusy
	}
	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops dispatching. Queued jobs fail with ErrDispatcherClosed.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.quit)
		d.pool.close()
	})
}

func (d *Dispatcher) Stats() Stats {
	running, idle := d.pool.stats()
	d.mu.Lock()
	queued := 0
	for _, q := range d.queues {
		queued += len(q.jobs)
	}
	d.mu.Unlock()
	return Stats{Running: running, Idle: idle, Queued: queued + len(d.jobQueue)}
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of the key in the front of LRU queue
		if !d.dispatchOne() {
			select {
			case job := <-d.jobQueue: // force congestion
				d.enqueueJob(job)
			case <-d.quit:
				d.drain()
				return
			}
			continue
		}
		// if we have a new job, enqueue it and its key
		select {
		case job := <-d.jobQueue: // non-congestion
			d.enqueueJob(job)
		case <-d.quit:
			d.drain()
			return
		default:
		}
	}
}

// CancelKey drops jobs of key that have not started yet.
func (d *Dispatcher) CancelKey(key string) {
	d.mu.Lock()
	q := d.queues[key]
	delete(d.queues, key)
	if elem, ok := d.positions[key]; ok {
		d.ready.Remove(elem)
		delete(d.positions, key)
	}
	d.mu.Unlock()
	if q != nil {
		for _, job := range q.jobs {
			job.abort(context.Canceled)
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Key]
	if q == nil {
		q = &keyQueue{}
		d.queues[job.Key] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		// key already enqueue, skip
		return
	}
	// new key, enqueue
	q.enqueued = true
	elem := d.ready.PushBack(job.Key)
	d.positions[job.Key] = elem
}

// dispatchOne get first key in LRU and dispatch its job
func (d *Dispatcher) dispatchOne() bool {
	job, ok := d.nextJob()
	if !ok {
		return false
	}
	workerChan := d.pool.acquire()
	if workerChan == nil {
		job.abort(ErrDispatcherClosed)
		return true
	}
	d.logger.Debug("assign job", "key", job.Key, "worker", d.pool.workerID(workerChan))
	workerChan <- job
	return true
}

// nextJob pops the oldest job of the least recently served key.
func (d *Dispatcher) nextJob() (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	elem := d.ready.Front()
	if elem == nil {
		return Job{}, false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	// get job from the first key
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		// key only have one job, it'll be handled, key needs to quit queue
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, key)
		delete(d.queues, key)
	} else {
		// get to the back of queue
		d.ready.MoveToBack(elem)
	}
	return job, true
}

func (d *Dispatcher) drain() {
	d.mu.Lock()
	var pending []Job
	for key, q := range d.queues {
		pending = append(pending, q.jobs...)
		delete(d.queues, key)
	}
	d.ready.Init()
	d.positions = make(map[string]*list.Element)
	d.mu.Unlock()
	for {
		select {
		case job := <-d.jobQueue:
			pending = append(pending, job)
		default:
			for _, job := range pending {
				job.abort(ErrDispatcherClosed)
			}
			return
		}
	}
}
