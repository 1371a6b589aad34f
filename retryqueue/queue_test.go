package retryqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu        sync.Mutex
	failUntil map[string]int
	attempts  map[string]int
	order     []string
}

func newFakeSender() *fakeSender {
	return &fakeSender{failUntil: map[string]int{}, attempts: map[string]int{}}
}

func (f *fakeSender) SendTransaction(ctx context.Context, destination string, txn *Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[txn.ID]++
	f.order = append(f.order, txn.ID)
	if f.attempts[txn.ID] <= f.failUntil[txn.ID] {
		return assert.AnError
	}
	return nil
}

func TestEnqueueDeliversInOrder(t *testing.T) {
	sender := newFakeSender()
	q := New(sender, time.Millisecond, 10*time.Millisecond, 1000, nil)
	defer q.Close()

	q.Enqueue(&Transaction{ID: "1", Destination: "a.example"})
	q.Enqueue(&Transaction{ID: "2", Destination: "a.example"})
	q.Enqueue(&Transaction{ID: "3", Destination: "a.example"})

	require.Eventually(t, func() bool {
		return q.Pending("a.example") == 0
	}, time.Second, time.Millisecond)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, []string{"1", "2", "3"}, sender.order)
}

func TestRetriesWithBackoffUntilSuccess(t *testing.T) {
	sender := newFakeSender()
	sender.failUntil["1"] = 2

	q := New(sender, time.Millisecond, 20*time.Millisecond, 1000, nil)
	defer q.Close()

	q.Enqueue(&Transaction{ID: "1", Destination: "a.example"})

	require.Eventually(t, func() bool {
		return q.Pending("a.example") == 0
	}, time.Second, time.Millisecond)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, 3, sender.attempts["1"])
}

func TestDestinationsDoNotBlockEachOther(t *testing.T) {
	sender := newFakeSender()
	sender.failUntil["slow"] = 1000000 // never succeeds within the test

	var fastDelivered int32
	q := New(sender, 50*time.Millisecond, 200*time.Millisecond, 1000, nil)
	defer q.Close()

	q.Enqueue(&Transaction{ID: "slow", Destination: "slow.example"})
	q.Enqueue(&Transaction{ID: "fast", Destination: "fast.example"})

	require.Eventually(t, func() bool {
		if q.Pending("fast.example") == 0 {
			atomic.StoreInt32(&fastDelivered, 1)
			return true
		}
		return false
	}, time.Second, time.Millisecond)

	assert.Equal(t, int32(1), atomic.LoadInt32(&fastDelivered))
}
