package pool

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Execute after Close.
var ErrClosed = errors.New("pool: closed")

// Pool executes caller-submitted jobs on a fixed number of long-lived
// workers. Submission is a rendezvous: Execute blocks until an idle worker
// takes the job, which is the pool's backpressure mechanism.
type Pool struct {
	jobs chan func()
	done chan struct{}

	mu     sync.Mutex
	cond   *sync.Cond
	active int

	closeOnce sync.Once
}

// New spawns a pool with n workers. n must be at least 1.
func New(n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{jobs: make(chan func()), done: make(chan struct{})}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for {
		var job func()
		select {
		case <-p.done:
			return
		case job = <-p.jobs:
		}

		p.mu.Lock()
		p.active++
		p.mu.Unlock()

		job()

		p.mu.Lock()
		p.active--
		if p.active == 0 {
			p.cond.Broadcast()
		}
		p.mu.Unlock()
	}
}

// Execute hands the job to an idle worker, blocking the caller until one
// accepts it. The job runs to completion once accepted; the pool does not
// observe its outcome. After Close, Execute returns ErrClosed without
// running the job. A submission racing Close may still be accepted.
func (p *Pool) Execute(job func()) error {
	select {
	case <-p.done:
		return ErrClosed
	case p.jobs <- job:
		return nil
	}
}

// WaitForCompletion blocks until no jobs are in flight. It returns
// immediately if nothing is outstanding at call time; the pool only
// signals on the transition to zero, so callers racing new submissions
// must call again after being woken if they need a later quiescent point.
func (p *Pool) WaitForCompletion() {
	p.mu.Lock()
	for p.active > 0 {
		p.cond.Wait()
	}
	p.mu.Unlock()
}

// Close stops idle workers and fails subsequent submissions. Jobs already
// accepted run to completion. Blocked Execute callers return ErrClosed
// instead of hanging or panicking.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}
