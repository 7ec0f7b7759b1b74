package visited

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVisitAndReset(t *testing.T) {
	s := New(64)

	assert.False(t, s.Visited(3))
	s.Visit(3)
	s.Visit(63)
	assert.True(t, s.Visited(3))
	assert.True(t, s.Visited(63))

	s.Reset()
	assert.False(t, s.Visited(3))
	assert.False(t, s.Visited(63))
}

func TestGrowBeyondCapacity(t *testing.T) {
	s := New(8)
	s.Visit(1000)
	assert.True(t, s.Visited(1000))
	assert.False(t, s.Visited(999))
}

func TestVisitedOutOfRange(t *testing.T) {
	s := New(8)
	assert.False(t, s.Visited(1 << 20))
}
