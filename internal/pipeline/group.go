package pipeline

import (
	"github.com/gammazero/workerpool"
	"golang.org/x/sync/errgroup"
)

// taskGroup owns the goroutines that run enrichment tasks. Submit must
// never block the caller.
type taskGroup interface {
	Submit(task func())
	StopWait()
}

// boundedGroup caps concurrency; excess tasks queue inside the pool.
type boundedGroup struct {
	pool *workerpool.WorkerPool
}

func newBoundedGroup(workers int) *boundedGroup {
	return &boundedGroup{pool: workerpool.New(workers)}
}

func (g *boundedGroup) Submit(task func()) { g.pool.Submit(task) }

func (g *boundedGroup) StopWait() { g.pool.StopWait() }

// unboundedGroup starts one goroutine per task.
type unboundedGroup struct {
	eg errgroup.Group
}

func (g *unboundedGroup) Submit(task func()) {
	g.eg.Go(func() error {
		task()
		return nil
	})
}

func (g *unboundedGroup) StopWait() { _ = g.eg.Wait() }

func newTaskGroup(maxInFlight int) taskGroup {
	if maxInFlight > 0 {
		return newBoundedGroup(maxInFlight)
	}
	return &unboundedGroup{}
}
