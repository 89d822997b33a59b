// Package intent implements the Transaction Intent state machine (spec
// §4.7) and the Intent Manager (spec §4.8): the per-path driver that walks
// START → INSTANT_STEP/DELAYED_STEP → NOT_PROFITABLE/UNFILLED, and the
// thread-safe index of live intents used for merge/lookup.
package intent

import (
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// mergeRequest is accepted/rejected synchronously by the owning Runner's
// merge-accept loop (spec §4.7 DELAYED_STEP concurrent task B).
type mergeRequest struct {
	initDelta decimal.Decimal
	currDelta decimal.Decimal
	result    chan bool
}

// handle is what the Manager tracks per live intent: enough to route a
// merge request to the Runner actually driving it.
type handle struct {
	id        string
	shapeKey  string
	marketIdx int
	mergeIn   chan mergeRequest
}

// Manager is the Intent Manager (spec §4.8): indexes live intents by id
// (for removal) and by (shapeKey, marketIdx) (for merge candidates).
type Manager struct {
	mu      sync.Mutex
	byID    map[string]*handle
	byShape map[string][]*handle
}

// NewManager builds an empty registry.
func NewManager() *Manager {
	return &Manager{byID: make(map[string]*handle), byShape: make(map[string][]*handle)}
}

func shapeIndexKey(shapeKey string, marketIdx int) string {
	return shapeKey + "#" + strconv.Itoa(marketIdx)
}

// register adds a Runner to both indexes. Called once when a Runner starts
// driving an intent.
func (m *Manager) register(h *handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[h.id] = h
	k := shapeIndexKey(h.shapeKey, h.marketIdx)
	m.byShape[k] = append(m.byShape[k], h)
}

// rebind updates a Runner's shape-index position after its marketIdx (or,
// post-merge, its shape) changes.
func (m *Manager) rebind(h *handle, oldShapeKey string, oldMarketIdx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	oldK := shapeIndexKey(oldShapeKey, oldMarketIdx)
	list := m.byShape[oldK]
	for i, e := range list {
		if e == h {
			m.byShape[oldK] = append(list[:i], list[i+1:]...)
			break
		}
	}
	newK := shapeIndexKey(h.shapeKey, h.marketIdx)
	m.byShape[newK] = append(m.byShape[newK], h)
}

// unregister removes a Runner from both indexes. Called once the Runner
// reaches a terminal state.
func (m *Manager) unregister(h *handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, h.id)
	k := shapeIndexKey(h.shapeKey, h.marketIdx)
	list := m.byShape[k]
	for i, e := range list {
		if e == h {
			m.byShape[k] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// InFlight reports whether any live intent shares shapeKey, at any
// marketIdx. Used by the Path Enumerator to exclude already-running paths
// from newly enumerated candidates (spec §4.3's "paths already in flight
// are filtered out").
func (m *Manager) InFlight(shapeKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := shapeKey + "#"
	for k, list := range m.byShape {
		if len(list) > 0 && strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

// TryMerge offers (initDelta, currDelta) to the first live intent sharing
// shapeKey and marketIdx, returning whether one accepted it (spec §4.7
// START: "try-merge-with-existing intent"). Excludes self by id.
func (m *Manager) TryMerge(selfID, shapeKey string, marketIdx int, initDelta, currDelta decimal.Decimal) bool {
	m.mu.Lock()
	candidates := append([]*handle(nil), m.byShape[shapeIndexKey(shapeKey, marketIdx)]...)
	m.mu.Unlock()

	for _, h := range candidates {
		if h.id == selfID {
			continue
		}
		req := mergeRequest{initDelta: initDelta, currDelta: currDelta, result: make(chan bool, 1)}
		select {
		case h.mergeIn <- req:
		default:
			continue // Runner's merge loop isn't receiving right now; try the next.
		}
		if accepted := <-req.result; accepted {
			return true
		}
	}
	return false
}
