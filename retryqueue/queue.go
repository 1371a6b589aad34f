// Package retryqueue implements per-destination ordered delivery of
// outbound federation transactions with exponential backoff on transport
// failure, capped per the configured maximum.
package retryqueue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Transaction is one outbound federation transaction awaiting delivery to
// Destination.
type Transaction struct {
	ID          string
	Destination string
	PDUs        [][]byte
}

// Sender delivers a transaction to a destination server. Implementations
// wrap the federation client's signed PUT to /_matrix/federation/v1/send.
type Sender interface {
	SendTransaction(ctx context.Context, destination string, txn *Transaction) error
}

// Queue serializes transactions per destination: each destination gets its
// own FIFO and single worker goroutine, so a slow or failing server never
// blocks delivery to any other server.
type Queue struct {
	sender      Sender
	baseBackoff time.Duration
	maxBackoff  time.Duration
	limiter     *rate.Limiter
	logger      *zap.SugaredLogger

	mu      sync.Mutex
	byDest  map[string]*destinationQueue
	rootCtx context.Context
	cancel  context.CancelFunc
}

type destinationQueue struct {
	mu      sync.Mutex
	pending []*Transaction
	notify  chan struct{}
}

// New constructs a retry queue. baseBackoff is the delay after the first
// failure; it doubles on each subsequent failure up to maxBackoff.
// requestsPerSecond bounds the aggregate outbound send rate across all
// destinations.
func New(sender Sender, baseBackoff, maxBackoff time.Duration, requestsPerSecond float64, log *zap.SugaredLogger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		sender:      sender,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
		limiter:     rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		logger:      log,
		byDest:      make(map[string]*destinationQueue),
		rootCtx:     ctx,
		cancel:      cancel,
	}
}

// Enqueue appends txn to its destination's FIFO, starting that
// destination's worker if this is its first pending transaction.
func (q *Queue) Enqueue(txn *Transaction) {
	dq := q.destinationQueue(txn.Destination)

	dq.mu.Lock()
	dq.pending = append(dq.pending, txn)
	dq.mu.Unlock()

	select {
	case dq.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) destinationQueue(destination string) *destinationQueue {
	q.mu.Lock()
	defer q.mu.Unlock()

	dq, ok := q.byDest[destination]
	if ok {
		return dq
	}

	dq = &destinationQueue{notify: make(chan struct{}, 1)}
	q.byDest[destination] = dq
	go q.run(destination, dq)
	return dq
}

func (q *Queue) run(destination string, dq *destinationQueue) {
	backoff := q.baseBackoff

	for {
		select {
		case <-q.rootCtx.Done():
			return
		case <-dq.notify:
		}

		for {
			dq.mu.Lock()
			if len(dq.pending) == 0 {
				dq.mu.Unlock()
				break
			}
			txn := dq.pending[0]
			dq.mu.Unlock()

			if err := q.limiter.Wait(q.rootCtx); err != nil {
				return
			}

			err := q.sender.SendTransaction(q.rootCtx, destination, txn)
			if err == nil {
				dq.mu.Lock()
				dq.pending = dq.pending[1:]
				dq.mu.Unlock()
				backoff = q.baseBackoff
				continue
			}

			if q.logger != nil {
				q.logger.Warnw("transaction delivery failed, backing off",
					"destination", destination, "txn_id", txn.ID, "backoff", backoff, "error", err)
			}

			select {
			case <-q.rootCtx.Done():
				return
			case <-time.After(backoff):
			}

			backoff *= 2
			if backoff > q.maxBackoff {
				backoff = q.maxBackoff
			}
		}
	}
}

// Pending returns the number of transactions still queued for destination.
func (q *Queue) Pending(destination string) int {
	q.mu.Lock()
	dq, ok := q.byDest[destination]
	q.mu.Unlock()
	if !ok {
		return 0
	}
	dq.mu.Lock()
	defer dq.mu.Unlock()
	return len(dq.pending)
}

// Close stops every destination worker.
func (q *Queue) Close() {
	q.cancel()
}
