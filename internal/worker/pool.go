package worker

import (
	"context"
	"sync"
)

// Pool runs a fixed number of coordinators over the same queue
type Pool struct {
	opts         Options
	coordinators []*Coordinator
}

// NewPool creates size coordinators sharing opts
func NewPool(size int, opts Options) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{opts: opts}
	for i := 0; i < size; i++ {
		p.coordinators = append(p.coordinators, NewCoordinator(opts))
	}
	return p
}

// Size returns the number of coordinators
func (p *Pool) Size() int {
	return len(p.coordinators)
}

// Run starts every coordinator and blocks until all of them have stopped.
// In reliable mode, items left in flight by a previous run are requeued first.
func (p *Pool) Run(ctx context.Context) error {
	if p.opts.Queue.Reliable() {
		moved, err := p.opts.Queue.RequeueInflight(ctx)
		if err != nil {
			p.opts.Logger.Infof("Failed to requeue in-flight jobs: %v", err)
		} else if moved > 0 {
			p.opts.Logger.Infof("Requeued %d in-flight jobs", moved)
		}
	}

	var wg sync.WaitGroup
	for _, c := range p.coordinators {
		wg.Add(1)
		go func(c *Coordinator) {
			defer wg.Done()
			_ = c.Run(ctx)
		}(c)
	}
	wg.Wait()

	return nil
}
