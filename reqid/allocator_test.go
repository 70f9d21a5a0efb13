package reqid

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocator_NotSeeded(t *testing.T) {
	a := NewAllocator()

	_, err := a.Next()
	assert.ErrorIs(t, err, ErrNotSeeded)

	_, ok := a.Current()
	assert.False(t, ok)

	select {
	case <-a.Seeded():
		t.Fatal("ready before seed")
	default:
	}
}

func TestAllocator_Next_sequential(t *testing.T) {
	t.Run("first id is the seed", func(t *testing.T) {
		a := NewAllocator()
		require.True(t, a.Seed(1))

		got, err := a.Next()
		require.NoError(t, err)
		assert.Equal(t, int64(1), got)
	})

	t.Run("ids strictly increase from the seed", func(t *testing.T) {
		a := NewAllocator()
		a.Seed(1000)
		for want := int64(1000); want < 1010; want++ {
			got, err := a.Next()
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}

		cur, ok := a.Current()
		assert.True(t, ok)
		assert.Equal(t, int64(1010), cur)
	})

	t.Run("seeded channel closes", func(t *testing.T) {
		a := NewAllocator()
		a.Seed(5)
		select {
		case <-a.Seeded():
		default:
			t.Fatal("ready channel still open")
		}
	})
}

func TestAllocator_Seed_never_decreases(t *testing.T) {
	a := NewAllocator()
	a.Seed(10)
	_, _ = a.Next()
	_, _ = a.Next()

	assert.False(t, a.Seed(5), "lower seed must be ignored")
	assert.False(t, a.Seed(12), "equal seed is a no-op")
	got, _ := a.Next()
	assert.Equal(t, int64(12), got)

	assert.True(t, a.Seed(50))
	got, _ = a.Next()
	assert.Equal(t, int64(50), got)
}

func TestAllocator_Next_concurrent(t *testing.T) {
	a := NewAllocator()
	a.Seed(1)

	const n = 500
	ids := make([]int64, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			id, err := a.Next()
			assert.NoError(t, err)
			ids[idx] = id
		}(i)
	}
	wg.Wait()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		assert.Equal(t, int64(i+1), id)
	}
}

func TestAllocator_independent_instances(t *testing.T) {
	a1 := NewAllocator()
	a2 := NewAllocator()
	a1.Seed(1)
	a2.Seed(1)

	id1, _ := a1.Next()
	id2, _ := a2.Next()
	assert.Equal(t, id1, id2)

	next1, _ := a1.Next()
	assert.Equal(t, int64(2), next1)
}
