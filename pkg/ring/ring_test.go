package ring

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_FIFO(t *testing.T) {
	r := New[int](4)

	for i := 1; i <= 4; i++ {
		r.Push(i)
	}

	for i := 1; i <= 4; i++ {
		got, ok := r.Pop()
		require.True(t, ok)
		assert.Equal(t, i, got)
	}

	_, ok := r.Pop()
	assert.False(t, ok, "empty ring should report no item")
}

func TestRing_OverflowDropsOldest(t *testing.T) {
	var droppedMu sync.Mutex
	var dropped []int

	r := New(3, WithDropCallback[int](func(item int) {
		droppedMu.Lock()
		dropped = append(dropped, item)
		droppedMu.Unlock()
	}))

	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	assert.Equal(t, uint64(2), r.Drops())
	droppedMu.Lock()
	assert.Equal(t, []int{1, 2}, dropped)
	droppedMu.Unlock()

	// Survivors are the newest three, still in order
	var got []int
	for {
		v, ok := r.Pop()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{3, 4, 5}, got)
}

func TestRing_PushNeverBlocks(t *testing.T) {
	r := New[int](2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10_000; i++ {
			r.Push(i)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Push blocked on a full ring")
	}

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, uint64(9_998), r.Drops())
}

func TestRing_PopBatch(t *testing.T) {
	r := New[string](8)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		r.Push(s)
	}

	assert.Equal(t, []string{"a", "b", "c"}, r.PopBatch(3))
	assert.Equal(t, []string{"d", "e"}, r.PopBatch(10))
	assert.Nil(t, r.PopBatch(10))
	assert.Nil(t, r.PopBatch(0))
}

func TestRing_NotifyWakesConsumer(t *testing.T) {
	r := New[int](4)

	got := make(chan int, 1)
	go func() {
		<-r.Notify()
		v, ok := r.Pop()
		if ok {
			got <- v
		}
	}()

	time.Sleep(10 * time.Millisecond)
	r.Push(42)

	select {
	case v := <-got:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("consumer was not woken by Notify")
	}
}

func TestRing_CloseDrains(t *testing.T) {
	r := New[int](4)
	r.Push(1)
	r.Push(2)

	r.Close()
	r.Close() // idempotent

	// Notify is closed
	select {
	case _, open := <-r.Notify():
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("Notify should be closed")
	}

	// Pushes after close are dropped silently
	r.Push(3)
	assert.Equal(t, 2, r.Len())

	// Remaining items still drain
	v, ok := r.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = r.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	assert.True(t, r.Closed())
}

func TestRing_MinimumCapacity(t *testing.T) {
	r := New[int](0)
	assert.Equal(t, 1, r.Cap())

	r.Push(1)
	r.Push(2)
	assert.Equal(t, uint64(1), r.Drops())

	v, ok := r.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestRing_Stats(t *testing.T) {
	r := New[int](2)
	r.Push(1)
	r.Push(2)
	r.Push(3) // evicts 1
	r.Pop()

	s := r.Stats()
	assert.Equal(t, uint64(3), s.Pushes)
	assert.Equal(t, uint64(1), s.Pops)
	assert.Equal(t, uint64(1), s.Drops)
	assert.Equal(t, 1, s.Len)
	assert.Equal(t, 2, s.Cap)
	assert.Equal(t, 2, s.HighWater)
}

func TestRing_ConcurrentProducersSingleConsumer(t *testing.T) {
	r := New[int](64)

	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				r.Push(i)
			}
		}()
	}

	consumed := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range r.Notify() {
			for {
				if _, ok := r.Pop(); !ok {
					break
				}
				consumed++
			}
		}
		// Drain whatever remained at close
		for {
			if _, ok := r.Pop(); !ok {
				break
			}
			consumed++
		}
	}()

	wg.Wait()
	r.Close()
	<-done

	total := uint64(producers * perProducer)
	s := r.Stats()
	assert.Equal(t, total, s.Pushes)
	assert.Equal(t, total, uint64(consumed)+s.Drops, "every push is consumed or counted as dropped")
}
