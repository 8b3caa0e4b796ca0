package blockchain

import (
	"context"
	"sync"
)

// queue runs block jobs one at a time, in order.
type queue struct {
	mu      sync.Mutex
	jobs    []*ProcessBlocksJob
	paused  bool
	running bool
	wake    chan struct{}

	onDrain func()
}

func newQueue(onDrain func()) *queue {
	return &queue{
		wake:    make(chan struct{}, 1),
		onDrain: onDrain,
	}
}

func (q *queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) push(job *ProcessBlocksJob) {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()
	q.signal()
}

func (q *queue) pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

func (q *queue) resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.signal()
}

func (q *queue) clear() {
	q.mu.Lock()
	q.jobs = nil
	q.mu.Unlock()
}

func (q *queue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *queue) isRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// idle means nothing is queued and nothing runs.
func (q *queue) idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.running && len(q.jobs) == 0
}

func (q *queue) next() *ProcessBlocksJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused || len(q.jobs) == 0 {
		return nil
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.running = true
	return job
}

// done marks the current job finished and reports whether the queue drained.
func (q *queue) done() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running = false
	return len(q.jobs) == 0
}

func (q *queue) run(ctx context.Context) {
	for {
		for job := q.next(); job != nil; job = q.next() {
			job.Handle()
			if q.done() && q.onDrain != nil {
				q.onDrain()
			}
			if ctx.Err() != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
	}
}
