package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOOrder(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	assert.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		v, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestPeekDoesNotRemove(t *testing.T) {
	q := New[string]()
	q.Push("head")
	q.Push("tail")

	v, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, "head", v)
	assert.Equal(t, 2, q.Len())
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New[string]()
	got := make(chan string, 1)

	go func() {
		v, ok := q.Pop(context.Background())
		if ok {
			got <- v
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push("wake")

	select {
	case v := <-got:
		assert.Equal(t, "wake", v)
	case <-time.After(time.Second):
		t.Fatal("parked Pop was never woken")
	}
}

func TestPushHandsToLongestWaiter(t *testing.T) {
	q := New[int]()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	first := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		close(first)
		v, ok := q.Pop(context.Background())
		require.True(t, ok)
		mu.Lock()
		order = append(order, v)
		mu.Unlock()
	}()
	<-first
	time.Sleep(20 * time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		v, ok := q.Pop(context.Background())
		require.True(t, ok)
		mu.Lock()
		order = append(order, v)
		mu.Unlock()
	}()
	time.Sleep(20 * time.Millisecond)

	q.Push(1)
	q.Push(2)
	wg.Wait()

	assert.Equal(t, []int{1, 2}, order)
}

func TestPopContextCancel(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pop did not observe cancellation")
	}

	// The cancelled waiter must be gone: a later push buffers normally.
	q.Push(7)
	v, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestCloseWakesWaitersAndKeepsItems(t *testing.T) {
	q := New[int]()

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(context.Background())
		done <- ok
	}()
	time.Sleep(20 * time.Millisecond)

	q.Close()
	assert.True(t, q.Closed())

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Close did not wake the waiter")
	}

	// Items buffered before close stay drainable; pushes after are dropped.
	q2 := New[int]()
	q2.Push(1)
	q2.Close()
	q2.Push(2)

	v, ok := q2.Pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = q2.Pop(context.Background())
	assert.False(t, ok)
}

func TestCancelWaitersLeavesQueueOpen(t *testing.T) {
	q := New[int]()

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(context.Background())
		done <- ok
	}()
	time.Sleep(20 * time.Millisecond)

	q.CancelWaiters()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("CancelWaiters did not wake the waiter")
	}

	assert.False(t, q.Closed())
	q.Push(3)
	v, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestDrain(t *testing.T) {
	q := New[string]()
	q.Push("a")
	q.Push("b")

	assert.Equal(t, []string{"a", "b"}, q.Drain())
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, q.Drain())
}
