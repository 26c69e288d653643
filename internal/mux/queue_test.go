package mux

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueuePushPop(t *testing.T) {
	q := NewQueue(2)
	q.Push([]byte("a"))
	q.Push([]byte("b"))

	got, err := q.Pop(time.Second)
	require.NoError(t, err)
	require.Equal(t, "a", string(got))
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	q := NewQueue(2)
	q.Push([]byte("a"))
	q.Push([]byte("b"))
	q.Push([]byte("c")) // drops "a"

	got, err := q.Pop(time.Second)
	require.NoError(t, err)
	require.Equal(t, "b", string(got))

	got, err = q.Pop(time.Second)
	require.NoError(t, err)
	require.Equal(t, "c", string(got))
}

func TestQueuePopTimesOutWithRetransmitNeeded(t *testing.T) {
	q := NewQueue(1)
	_, err := q.Pop(10 * time.Millisecond)
	require.ErrorIs(t, err, ErrRetransmitNeeded)
}

func TestQueueCloseWakesPop(t *testing.T) {
	q := NewQueue(1)
	done := make(chan error, 1)
	go func() {
		_, err := q.Pop(time.Second)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake on Close")
	}
}
