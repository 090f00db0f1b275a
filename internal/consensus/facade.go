package consensus

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Facade is the bidirectional consensus channel described in §4.8:
// notifications queue up for delivery by a single background worker (so
// the engine never observes core-internal locking), while commit_block
// idempotency bookkeeping is tracked here since it is the one piece of
// command handling this package owns directly — everything else in the
// Engine → Core command set is dispatched by the caller (the chain
// controller, publisher, or block store) and merely passes through Facade
// as a shared connection registry.
type Facade struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Notification
	closed bool
	wg     sync.WaitGroup

	committing map[string]struct{}
	blockKnown func(id string) bool

	transport WireTransport
	logger    *logrus.Logger
}

// NewFacade builds a Facade. blockKnown reports whether a block id is
// known to the core (backing BeginCommit's unknown-block rejection);
// transport may be nil, in which case Notify still queues and dequeues
// notifications but delivery is a no-op (useful for tests).
func NewFacade(blockKnown func(id string) bool, transport WireTransport, logger *logrus.Logger) *Facade {
	if logger == nil {
		logger = logrus.New()
	}
	f := &Facade{
		committing: make(map[string]struct{}),
		blockKnown: blockKnown,
		transport:  transport,
		logger:     logger,
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Start launches the single background notification-delivery worker.
func (f *Facade) Start() {
	f.wg.Add(1)
	go f.worker()
}

// Stop lets the worker deliver every notification still queued, then stops
// it; per §5's cancellation model, engine deactivation is expected to
// have already dropped the candidate block before Stop is called.
func (f *Facade) Stop() {
	f.mu.Lock()
	f.closed = true
	f.cond.Broadcast()
	f.mu.Unlock()
	f.wg.Wait()
}

// Notify enqueues a notification for background delivery.
func (f *Facade) Notify(n Notification) {
	f.mu.Lock()
	f.queue = append(f.queue, n)
	f.cond.Signal()
	f.mu.Unlock()
}

func (f *Facade) worker() {
	defer f.wg.Done()
	for {
		f.mu.Lock()
		for len(f.queue) == 0 && !f.closed {
			f.cond.Wait()
		}
		if len(f.queue) == 0 && f.closed {
			f.mu.Unlock()
			return
		}
		n := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()

		if f.transport == nil {
			continue
		}
		if err := f.transport.Send(n.ConnectionID, n); err != nil {
			f.logger.WithError(err).Warn("consensus: notification delivery failed")
		}
	}
}

// BeginCommit records that id's commit is in flight, per §4.8's "commit_block(id) is
// idempotent: commits of a block already being committed are no-ops;
// commits of unknown blocks fail". Returns (true, nil) for an id already
// in flight (the caller should treat this as a successful no-op), or
// ErrUnknownBlock if blockKnown(id) is false.
func (f *Facade) BeginCommit(id string) (alreadyInFlight bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.committing[id]; ok {
		return true, nil
	}
	if !f.blockKnown(id) {
		return false, ErrUnknownBlock
	}
	f.committing[id] = struct{}{}
	return false, nil
}

// EndCommit releases id's in-flight marker once the chain controller has
// finished committing (or has abandoned committing) it.
func (f *Facade) EndCommit(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.committing, id)
}
