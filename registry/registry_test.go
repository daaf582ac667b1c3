package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryRegister_Duplicate(t *testing.T) {
	r := New[int]()

	require.True(t, r.TryRegister("a", 1))
	assert.False(t, r.TryRegister("a", 2))

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, got)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []string{"a"}, r.ListIDs())
}

func TestRemove_Idempotent(t *testing.T) {
	r := New[int]()
	r.Remove("missing")

	require.True(t, r.TryRegister("a", 1))
	r.Remove("a")
	r.Remove("a")

	_, ok := r.Get("a")
	assert.False(t, ok)
	assert.True(t, r.TryRegister("a", 3))
}

func TestListIDs_Sorted(t *testing.T) {
	r := New[int]()
	for _, id := range []string{"c", "a", "b"} {
		r.TryRegister(id, 0)
	}
	assert.Equal(t, []string{"a", "b", "c"}, r.ListIDs())
}

func TestSnapshotAndClear(t *testing.T) {
	r := New[int]()
	r.TryRegister("a", 1)
	r.TryRegister("b", 2)

	snap := r.Snapshot()
	r.Clear()

	assert.Len(t, snap, 2)
	assert.Equal(t, 0, r.Len())
}

func TestTryRegister_Concurrent(t *testing.T) {
	r := New[int]()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if r.TryRegister("same", i) {
				wins.Add(1)
			}
			r.TryRegister(fmt.Sprintf("own-%d", i), i)
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
	assert.Equal(t, 65, r.Len())
}
