package id

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUID(t *testing.T) {
	got := UUID()
	_, err := uuid.Parse(got)
	require.NoError(t, err)
}

func TestUUIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		v := UUID()
		assert.False(t, seen[v], "duplicate id %s", v)
		seen[v] = true
	}
}

func TestShort(t *testing.T) {
	got := Short()
	assert.Len(t, got, 16)
	for _, c := range got {
		assert.True(t, (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f'), "unexpected character %q", c)
	}
}

func TestShortUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		v := Short()
		assert.False(t, seen[v], "duplicate id %s", v)
		seen[v] = true
	}
}
