package pac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/pacgate/internal/model"
)

func TestCache_GetCompilesOnce(t *testing.T) {
	cache := NewCache()
	calls := 0
	rules := func() []model.Rule {
		calls++
		return []model.Rule{{Pattern: "a.example", Action: model.ActionDirect}}
	}

	first := cache.Get("dev-1", "g1.d0", rules)
	second := cache.Get("dev-1", "g1.d0", rules)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, cache.Len())
}

func TestCache_VersionBumpRecompiles(t *testing.T) {
	cache := NewCache()

	old := cache.Get("dev-1", "g1.d0", func() []model.Rule { return nil })
	fresh := cache.Get("dev-1", "g2.d0", func() []model.Rule {
		return []model.Rule{{Pattern: "b.example", Action: model.ActionBlock}}
	})

	require.NotEqual(t, old.Key, fresh.Key)
	assert.NotContains(t, old.Body, "b.example")
	assert.Contains(t, fresh.Body, "b.example")
	// One document per device: the stale entry was replaced, not retained.
	assert.Equal(t, 1, cache.Len())
}

func TestCache_IndependentDevices(t *testing.T) {
	cache := NewCache()

	cache.Get("dev-1", "g1.d0", func() []model.Rule { return nil })
	cache.Get("dev-2", "g1.d0", func() []model.Rule { return nil })

	assert.Equal(t, 2, cache.Len())
}

func TestCache_Forget(t *testing.T) {
	cache := NewCache()

	cache.Get("dev-1", "g1.d0", func() []model.Rule { return nil })
	cache.Forget("dev-1")

	assert.Equal(t, 0, cache.Len())

	calls := 0
	cache.Get("dev-1", "g1.d0", func() []model.Rule {
		calls++
		return nil
	})
	assert.Equal(t, 1, calls)
}
