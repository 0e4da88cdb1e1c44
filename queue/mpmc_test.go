package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMPMCPutGetOrderSingleThreaded(t *testing.T) {
	q := NewMPMC[int](2)
	require.True(t, q.Put(1))
	require.True(t, q.Put(2))
	require.False(t, q.Put(3), "queue at capacity must reject further puts")
	v, ok := q.Get()
	require.True(t, ok)
	require.Equal(t, 1, v)
	v, ok = q.Get()
	require.True(t, ok)
	require.Equal(t, 2, v)
	_, ok = q.Get()
	require.False(t, ok)
}

func TestMPMCScriptedInterleaving(t *testing.T) {
	// A Michael-Scott queue over N allocated nodes always keeps one node
	// as the live dummy, so holding up to 3 enqueued values at once needs
	// NewMPMC(3): put(1), put(2), get (expect 1), put(3), put(4), put(5)
	// (expect false, full, since 2/3/4 is already 3 live values), get
	// (expect 2), put(5), get, get, get (expect 3, 4, 5), get (expect
	// false, empty).
	q := NewMPMC[int](3)
	require.True(t, q.Put(1))
	require.True(t, q.Put(2))
	v, ok := q.Get()
	require.True(t, ok)
	require.Equal(t, 1, v)
	require.True(t, q.Put(3))
	require.True(t, q.Put(4))
	require.False(t, q.Put(5), "full: holds 2,3,4")
	v, ok = q.Get()
	require.True(t, ok)
	require.Equal(t, 2, v)
	require.True(t, q.Put(5))
	v, ok = q.Get()
	require.True(t, ok)
	require.Equal(t, 3, v)
	v, ok = q.Get()
	require.True(t, ok)
	require.Equal(t, 4, v)
	v, ok = q.Get()
	require.True(t, ok)
	require.Equal(t, 5, v)
	_, ok = q.Get()
	require.False(t, ok)
}

func TestMPMCEmpty(t *testing.T) {
	q := NewMPMC[int](2)
	_, ok := q.Get()
	require.False(t, ok)
}

func TestMPMCConcurrentNoLossNoDuplication(t *testing.T) {
	const producers = 8
	const perProducer = 200
	q := NewMPMC[int](producers * perProducer)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				require.True(t, q.Put(base*perProducer+i))
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[int]bool, producers*perProducer)
	for i := 0; i < producers*perProducer; i++ {
		v, ok := q.Get()
		require.True(t, ok)
		require.False(t, seen[v], "value %d delivered twice", v)
		seen[v] = true
	}
	_, ok := q.Get()
	require.False(t, ok)
	require.Len(t, seen, producers*perProducer)
}
