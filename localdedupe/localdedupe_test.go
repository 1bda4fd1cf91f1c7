package localdedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInsertAndContains(t *testing.T) {
	c := New(10, time.Minute)
	defer c.Close()

	assert.False(t, c.Contains("k1"))
	c.Insert("k1")
	assert.True(t, c.Contains("k1"))
}

func TestExpiry(t *testing.T) {
	c := New(10, 10*time.Millisecond)
	defer c.Close()

	c.Insert("k1")
	assert.True(t, c.Contains("k1"))

	time.Sleep(30 * time.Millisecond)
	assert.False(t, c.Contains("k1"))
}

func TestCapacityEvictsOldest(t *testing.T) {
	c := New(2, time.Minute)
	defer c.Close()

	c.Insert("a")
	c.Insert("b")
	c.Insert("c") // evicts "a"

	assert.False(t, c.Contains("a"))
	assert.True(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))
	assert.Equal(t, 2, c.Len())
}

func TestInsertIdempotent(t *testing.T) {
	c := New(2, time.Minute)
	defer c.Close()

	c.Insert("a")
	c.Insert("a")
	assert.Equal(t, 1, c.Len())
}
