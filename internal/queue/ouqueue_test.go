package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOUQueueFIFOOrder(t *testing.T) {
	q := NewOUQueue(0)
	require.True(t, q.TryEnqueue([]byte("a")))
	require.True(t, q.TryEnqueue([]byte("b")))

	row, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "a", string(row))

	row, ok = q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "b", string(row))
}

func TestOUQueueBoundedRejectsWhenFull(t *testing.T) {
	q := NewOUQueue(1)
	require.True(t, q.TryEnqueue([]byte("a")))
	assert.False(t, q.TryEnqueue([]byte("b")), "second enqueue should be dropped per Queue full policy")
}

func TestOUQueueDrainsThenReportsClosed(t *testing.T) {
	q := NewOUQueue(0)
	require.True(t, q.TryEnqueue([]byte("a")))
	require.True(t, q.TryEnqueue([]byte("b")))
	q.Poison()

	row, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "a", string(row))

	row, ok = q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "b", string(row))

	_, ok = q.Dequeue()
	assert.False(t, ok, "dequeue after drain should report closed")
}

func TestOUQueuePoisonWithEmptyQueueUnblocksImmediately(t *testing.T) {
	q := NewOUQueue(0)
	done := make(chan struct{})
	go func() {
		_, ok := q.Dequeue()
		assert.False(t, ok)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	q.Poison()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock after poison")
	}
}

func TestOUQueueConcurrentProducersSingleConsumer(t *testing.T) {
	q := NewOUQueue(0)
	const producers = 8
	const perProducer = 50

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.TryEnqueue([]byte("row"))
			}
		}()
	}
	wg.Wait()
	q.Poison()

	count := 0
	for {
		_, ok := q.Dequeue()
		if !ok {
			break
		}
		count++
	}
	assert.Equal(t, producers*perProducer, count)
}
