package intent

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestManagerRegisterUnregisterTracksInFlight(t *testing.T) {
	m := NewManager()
	h := &handle{id: "a", shapeKey: "shapeA", marketIdx: 0, mergeIn: make(chan mergeRequest)}

	assert.False(t, m.InFlight("shapeA"))
	m.register(h)
	assert.True(t, m.InFlight("shapeA"))
	m.unregister(h)
	assert.False(t, m.InFlight("shapeA"))
}

func TestManagerRebindMovesShapeIndex(t *testing.T) {
	m := NewManager()
	h := &handle{id: "a", shapeKey: "shapeA", marketIdx: 0, mergeIn: make(chan mergeRequest)}
	m.register(h)

	h.shapeKey, h.marketIdx = "shapeB", 1
	m.rebind(h, "shapeA", 0)

	assert.False(t, m.InFlight("shapeA"))
	assert.True(t, m.InFlight("shapeB"))
}

func TestManagerTryMergeAcceptedByListeningRunner(t *testing.T) {
	m := NewManager()
	// One buffer slot stands in for a merge loop that is already receiving,
	// so TryMerge's non-blocking send cannot race the goroutine's start.
	other := &handle{id: "other", shapeKey: "xyz", marketIdx: 2, mergeIn: make(chan mergeRequest, 1)}
	m.register(other)

	go func() {
		req := <-other.mergeIn
		req.result <- true
	}()

	accepted := m.TryMerge("self", "xyz", 2, decimal.NewFromInt(1), decimal.NewFromInt(2))
	assert.True(t, accepted)
}

func TestManagerTryMergeSkipsSelf(t *testing.T) {
	m := NewManager()
	self := &handle{id: "self", shapeKey: "xyz", marketIdx: 0, mergeIn: make(chan mergeRequest)}
	m.register(self)

	// Nothing else is registered at this shape/index, and self must never be
	// offered its own merge request, so this has to return false without
	// blocking on self.mergeIn.
	accepted := m.TryMerge("self", "xyz", 0, decimal.NewFromInt(1), decimal.NewFromInt(1))
	assert.False(t, accepted)
}

func TestManagerTryMergeSkipsNonListeningRunner(t *testing.T) {
	m := NewManager()
	other := &handle{id: "other", shapeKey: "xyz", marketIdx: 0, mergeIn: make(chan mergeRequest)}
	m.register(other)

	// No goroutine is reading other.mergeIn, so the send must fall through
	// the select's default case rather than block, and TryMerge reports no
	// acceptance.
	accepted := m.TryMerge("self", "xyz", 0, decimal.NewFromInt(1), decimal.NewFromInt(1))
	assert.False(t, accepted)
}
