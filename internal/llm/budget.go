package llm

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Budget is the global LLM request budget shared by every agent.
// Grants are dispatched strictly in arrival order; since no agent ever
// has more than one tick in flight, FIFO admission degenerates to
// round-robin across agents under sustained contention.
type Budget struct {
	requests chan budgetRequest
	limiter  *rate.Limiter

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type budgetRequest struct {
	agentID string
	ready   chan struct{}
}

// NewBudget creates a budget refilling at perMinute requests per
// minute with a burst of one, and starts its dispatcher.
func NewBudget(perMinute int) *Budget {
	b := &Budget{
		requests: make(chan budgetRequest),
		limiter:  rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *Budget) dispatch() {
	defer close(b.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-b.stop
		cancel()
	}()

	for {
		select {
		case <-b.stop:
			return
		case req := <-b.requests:
			if err := b.limiter.Wait(ctx); err != nil {
				return // budget stopped while waiting
			}
			close(req.ready)
		}
	}
}

// Acquire blocks until a request token is granted or the context ends.
// Callers bound the wait with a deadline; an expired deadline means the
// tick was throttled.
func (b *Budget) Acquire(ctx context.Context, agentID string) error {
	req := budgetRequest{agentID: agentID, ready: make(chan struct{})}

	select {
	case b.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-b.stop:
		return context.Canceled
	}

	select {
	case <-req.ready:
		return nil
	case <-ctx.Done():
		// The dispatcher may still grant this request; the token is
		// lost, which only under-spends the budget.
		return ctx.Err()
	case <-b.stop:
		return context.Canceled
	}
}

// Stop shuts the dispatcher down; pending acquires fail
func (b *Budget) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })
	<-b.done
}
