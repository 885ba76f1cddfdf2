package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAfterAdd(t *testing.T) {
	c, err := New(16)
	require.NoError(t, err)

	c.Add("pano/5/1/2", []byte("tile-bytes"))
	data, ok := c.Get("pano/5/1/2")
	assert.True(t, ok)
	assert.Equal(t, []byte("tile-bytes"), data)

	_, ok = c.Get("pano/5/9/9")
	assert.False(t, ok)
}

func TestEvictionIsBounded(t *testing.T) {
	c, err := New(8)
	require.NoError(t, err)

	for i := 0; i < 32; i++ {
		c.Add(fmt.Sprintf("k%d", i), []byte{byte(i)})
	}
	assert.Equal(t, 8, c.Len())

	// The most recent entries survive.
	_, ok := c.Get("k31")
	assert.True(t, ok)
	_, ok = c.Get("k0")
	assert.False(t, ok)
}

func TestDefaultSize(t *testing.T) {
	c, err := New(0)
	require.NoError(t, err)
	c.Add("k", []byte("v"))
	assert.Equal(t, 1, c.Len())
}
