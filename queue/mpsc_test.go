package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMPSCDrainReversesPushOrder(t *testing.T) {
	var q MPSC[int]
	nodes := make([]MPSCNode[int], 3)
	for i := range nodes {
		nodes[i].Value = i + 1
		q.Push(&nodes[i])
	}
	out := q.Drain()
	require.Len(t, out, 3)
	require.Equal(t, 3, out[0].Value)
	require.Equal(t, 2, out[1].Value)
	require.Equal(t, 1, out[2].Value)
	require.Empty(t, q.Drain(), "second drain must observe an empty queue")
}

func TestMPSCDrainEmpty(t *testing.T) {
	var q MPSC[int]
	require.Empty(t, q.Drain())
}

func TestMPSCConcurrentProducersNoLoss(t *testing.T) {
	const producers = 8
	const perProducer = 500

	var q MPSC[int]
	nodes := make([]MPSCNode[int], producers*perProducer)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				n := &nodes[base*perProducer+i]
				n.Value = base*perProducer + i
				q.Push(n)
			}
		}(p)
	}

	seen := make(map[int]bool, len(nodes))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for len(seen) < len(nodes) {
			for _, n := range q.Drain() {
				require.False(t, seen[n.Value], "node %d delivered twice", n.Value)
				seen[n.Value] = true
			}
		}
	}()

	wg.Wait()
	<-done
	require.Len(t, seen, len(nodes))
}
