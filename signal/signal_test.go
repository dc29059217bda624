package signal

import (
	"testing"
	"time"

	"distcoord/model"

	"github.com/stretchr/testify/require"
)

func TestQueueDeliversFIFOWithinOneSender(t *testing.T) {
	q := NewQueue()
	var got []int
	done := make(chan struct{})
	q.Register("tick", func(s Signal) {
		got = append(got, s.Payload.(int))
		if len(got) == 3 {
			close(done)
		}
	})
	go q.Run()
	q.Post(Signal{Kind: "tick", Payload: 1})
	q.Post(Signal{Kind: "tick", Payload: 2})
	q.Post(Signal{Kind: "tick", Payload: 3})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for signals")
	}
	require.Equal(t, []int{1, 2, 3}, got)
	q.Close()
}

func TestContinueBSelfReschedules(t *testing.T) {
	q := NewQueue()
	count := 0
	done := make(chan struct{})
	q.Register("continue", func(s Signal) {
		count++
		if count < 5 {
			q.ContinueB("continue", nil)
		} else {
			close(done)
		}
	})
	go q.Run()
	q.ContinueB("continue", nil)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("continuation never completed")
	}
	require.Equal(t, 5, count)
	q.Close()
}

func TestCounterNodeFailureSynthesizesReply(t *testing.T) {
	c := NewCounter(ReasonGcpPrepare, []model.NodeID{1, 2, 3})
	reg := NewRegistry()
	reg.Track(c)

	c.Clear(1)
	require.False(t, c.Done())

	completed := reg.FixUpNodeFailure(2)
	require.Len(t, completed, 0)
	require.False(t, c.Done())

	completed = reg.FixUpNodeFailure(3)
	require.Len(t, completed, 1)
	require.True(t, c.Done())
}
