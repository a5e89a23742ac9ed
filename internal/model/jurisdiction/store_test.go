package jurisdiction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedContainsOregon(t *testing.T) {
	store := NewMemoryStore(Seed())

	or, ok := store.FindByState("or")
	require.True(t, ok)
	assert.Equal(t, "Oregon", or.Name)
	assert.True(t, or.HasCity("portland"))
	assert.True(t, or.HasCity("Eugene"))
}

func TestSupports(t *testing.T) {
	store := NewMemoryStore(Seed())

	assert.True(t, store.Supports("Portland", "or"))
	assert.True(t, store.Supports("", "OR"))
	assert.True(t, store.Supports("null", "or"))
	assert.False(t, store.Supports("Salem", "or"))
	assert.False(t, store.Supports("", "wa"))
}

func TestParseRejectsMissingState(t *testing.T) {
	_, err := Parse([]byte("- name: Nowhere\n"))
	assert.Error(t, err)
}

func TestListReturnsCopy(t *testing.T) {
	store := NewMemoryStore(Seed())
	items := store.List()
	items[0].Name = "changed"

	or, _ := store.FindByState("OR")
	assert.Equal(t, "Oregon", or.Name)
}
