package engine

import (
	"sync"
	"time"
)

// taskGroup tracks the engine's background goroutines (dispatch attempts
// and side-effect deliveries) so shutdown can drain them with a deadline.
type taskGroup struct {
	wg sync.WaitGroup
}

func (g *taskGroup) Go(fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

// Wait blocks until all tracked goroutines finish or the timeout elapses.
func (g *taskGroup) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
