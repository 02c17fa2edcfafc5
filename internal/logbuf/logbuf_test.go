package logbuf

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func messages(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message)
	}

	return out
}

func TestRing_EvictsOldestFirst(t *testing.T) {
	ring := NewRing(3)

	for i := range 5 {
		ring.Add(LevelInfo, fmt.Sprintf("m%d", i))
	}

	require.Equal(t, 3, ring.Len())
	require.Equal(t, []string{"m2", "m3", "m4"}, messages(ring.Recent(0)))
	require.Equal(t, []string{"m3", "m4"}, messages(ring.Recent(2)))
}

func TestRing_PartiallyFilled(t *testing.T) {
	ring := NewRing(10)
	ring.Add(LevelStderr, "a")
	ring.Add(LevelWarn, "b")

	require.Equal(t, 2, ring.Len())
	require.Equal(t, []string{"a", "b"}, messages(ring.Recent(50)))
	require.Equal(t, LevelStderr, ring.Recent(0)[0].Level)
	require.False(t, ring.Recent(0)[0].Timestamp.IsZero())
}

func TestRing_ExactlyFull(t *testing.T) {
	ring := NewRing(2)
	ring.Add(LevelInfo, "a")
	ring.Add(LevelInfo, "b")

	require.Equal(t, []string{"a", "b"}, messages(ring.Recent(0)))
}

func TestNewRing_DefaultCapacity(t *testing.T) {
	ring := NewRing(0)

	for i := range DefaultCapacity + 10 {
		ring.Add(LevelInfo, fmt.Sprint(i))
	}

	require.Equal(t, DefaultCapacity, ring.Len())
}

func TestStore_PerServer(t *testing.T) {
	store := NewStore(5)
	store.Add("a", LevelInfo, "one")
	store.Add("b", LevelError, "two")

	require.Equal(t, []string{"one"}, messages(store.Recent("a", 10)))
	require.Equal(t, []string{"two"}, messages(store.Recent("b", 10)))
	require.Empty(t, store.Recent("missing", 10))
	require.Same(t, store.For("a"), store.For("a"))
}

func TestStore_ConcurrentWriters(t *testing.T) {
	store := NewStore(50)

	var wg sync.WaitGroup

	for w := range 8 {
		wg.Go(func() {
			for i := range 100 {
				store.Add("srv", LevelStderr, fmt.Sprintf("%d-%d", w, i))
			}
		})
	}

	wg.Wait()

	require.Len(t, store.Recent("srv", 0), 50)
}
