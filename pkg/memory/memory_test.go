package memory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/boristopalov/tutor/pkg/memory"
)

func TestMemory(t *testing.T) {
	t.Run("drops oldest past capacity", func(t *testing.T) {
		m := memory.New[float64](3)
		for _, r := range []float64{1, 2, 3, 4} {
			m.Store(r)
		}
		assert.Equal(t, []float64{2, 3, 4}, m.All())
		assert.Equal(t, 3, m.Len())
	})

	t.Run("last", func(t *testing.T) {
		m := memory.New[float64](10)
		m.Store(1)
		m.Store(2)
		m.Store(3)
		assert.Equal(t, []float64{2, 3}, m.Last(2))
		assert.Equal(t, []float64{1, 2, 3}, m.Last(5))
		assert.Empty(t, m.Last(0))
	})

	t.Run("latest", func(t *testing.T) {
		m := memory.New[string](2)
		_, ok := m.Latest()
		assert.False(t, ok)
		m.Store("use the discount factor")
		v, ok := m.Latest()
		assert.True(t, ok)
		assert.Equal(t, "use the discount factor", v)
	})

	t.Run("copies are detached", func(t *testing.T) {
		m := memory.New[string](2)
		m.Store("a")
		all := m.All()
		all[0] = "b"
		assert.Equal(t, []string{"a"}, m.All())
	})

	t.Run("reset", func(t *testing.T) {
		m := memory.New[int](2)
		m.Store(1)
		m.Reset()
		assert.Equal(t, 0, m.Len())
	})
}
