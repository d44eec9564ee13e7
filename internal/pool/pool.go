// Package pool bounds the number of detection-module goroutines running at
// once across all in-flight checks.
package pool

import "sync"

// Pool is a process-wide concurrency limiter. Tasks from every request share
// the same token bucket, so a burst of checks cannot spawn more than the
// configured number of module goroutines.
type Pool struct {
	sem chan struct{}
}

// New creates a pool allowing up to workers concurrent tasks.
func New(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{sem: make(chan struct{}, workers)}
}

// Size reports the pool's concurrency limit.
func (p *Pool) Size() int { return cap(p.sem) }

// Group collects the tasks of one pipeline evaluation so the caller can block
// until all of them finish.
type Group struct {
	pool *Pool
	wg   sync.WaitGroup
}

// Group starts a new join scope against the pool.
func (p *Pool) Group() *Group {
	return &Group{pool: p}
}

// Go schedules fn. The goroutine starts immediately but blocks on a pool
// token before running, which keeps total concurrency bounded while letting
// Wait observe every submission.
func (g *Group) Go(fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.pool.sem <- struct{}{}
		defer func() { <-g.pool.sem }()
		fn()
	}()
}

// Wait blocks until every task submitted through Go has returned.
func (g *Group) Wait() {
	g.wg.Wait()
}
