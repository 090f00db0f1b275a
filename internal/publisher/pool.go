package publisher

import (
	"sync"

	"ledgercore/internal/types"
)

// pool is the pending-batch pool: an ordered, deduplicated queue of batches
// awaiting a candidate block, per §4.7.
type pool struct {
	mu    sync.Mutex
	order []*types.Batch
	seen  map[string]struct{}
}

func newPool() *pool {
	return &pool{seen: make(map[string]struct{})}
}

// Add appends batch to the back of the pool if it is not already present,
// reporting whether it was newly added.
func (p *pool) Add(b *types.Batch) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.seen[b.ID()]; ok {
		return false
	}
	p.seen[b.ID()] = struct{}{}
	p.order = append(p.order, b)
	return true
}

// PopFront removes and returns the pool's oldest entry.
func (p *pool) PopFront() (*types.Batch, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.order) == 0 {
		return nil, false
	}
	b := p.order[0]
	p.order = p.order[1:]
	delete(p.seen, b.ID())
	return b, true
}

// PrependAll pushes batches back onto the front of the pool, in their
// original order, skipping any already present. Used when a candidate is
// cancelled and its drained-but-unfinalized batches must not be lost.
func (p *pool) PrependAll(batches []*types.Batch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(batches) - 1; i >= 0; i-- {
		b := batches[i]
		if _, ok := p.seen[b.ID()]; ok {
			continue
		}
		p.seen[b.ID()] = struct{}{}
		p.order = append([]*types.Batch{b}, p.order...)
	}
}

// Len reports the pool's current size.
func (p *pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// Snapshot returns a copy of the pool's current order.
func (p *pool) Snapshot() []*types.Batch {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*types.Batch, len(p.order))
	copy(out, p.order)
	return out
}

// Rebuild replaces the pool's contents wholesale, preserving newOrder as
// supplied by the caller (§4.7's on_chain_updated rebuild).
func (p *pool) Rebuild(newOrder []*types.Batch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.order = append([]*types.Batch(nil), newOrder...)
	p.seen = make(map[string]struct{}, len(newOrder))
	for _, b := range p.order {
		p.seen[b.ID()] = struct{}{}
	}
}

// queueLimiter tracks the rolling average of batches consumed per publish
// and exposes the pool's declared memory-bounding limit, per §4.7's "Queue
// limit" paragraph: limit = 10 x avg, where avg is a rolling mean over the
// last windowSize observed consumed-per-publish samples.
type queueLimiter struct {
	mu         sync.Mutex
	windowSize int
	samples    []float64
	avg        float64
}

func newQueueLimiter(windowSize int, initialAvg float64) *queueLimiter {
	return &queueLimiter{windowSize: windowSize, avg: initialAvg}
}

// Limit returns the pool's current declared limit, 10x the rolling average.
func (q *queueLimiter) Limit() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(10 * q.avg)
}

// Observe records one publish cycle's (pool length before draining,
// batches consumed), updating the rolling average only when consumed > 0
// and either the remaining pool exceeds the average or consumed itself
// exceeds the average — letting the limit grow geometrically under
// sustained high throughput while staying flat during quiet periods.
func (q *queueLimiter) Observe(poolLenBeforeConsume, consumed int) {
	if consumed <= 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	remaining := float64(poolLenBeforeConsume - consumed)
	if remaining <= q.avg && float64(consumed) <= q.avg {
		return
	}

	q.samples = append(q.samples, float64(consumed))
	if len(q.samples) > q.windowSize {
		q.samples = q.samples[len(q.samples)-q.windowSize:]
	}
	var sum float64
	for _, s := range q.samples {
		sum += s
	}
	q.avg = sum / float64(len(q.samples))
}
