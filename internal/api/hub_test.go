package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHub(t *testing.T) {
	h := newHub[int]()
	a := h.Subscribe(1)
	b := h.Subscribe(1)
	assert.Equal(t, 2, h.Len())

	h.Broadcast(1)
	// b is full now; the second value is dropped for it rather than blocking
	h.Broadcast(2)

	assert.Equal(t, 1, <-a.ch)
	assert.Equal(t, 1, <-b.ch)

	h.Unsubscribe(a)
	h.Unsubscribe(a)
	assert.Equal(t, 1, h.Len())
	_, open := <-a.ch
	assert.False(t, open)
}
