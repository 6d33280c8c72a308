package capture

import "sync"

// Gate admits frame callbacks until it is closed. Close waits for callbacks
// already admitted, so once it returns no callback is running or will run.
//
// A callback must not call Close on its own gate.
type Gate struct {
	mu     sync.RWMutex
	closed bool
}

// Enter admits one callback. When it returns true the caller must call Leave.
func (g *Gate) Enter() bool {
	g.mu.RLock()
	if g.closed {
		g.mu.RUnlock()
		return false
	}
	return true
}

// Leave ends a callback admitted by Enter.
func (g *Gate) Leave() {
	g.mu.RUnlock()
}

// Close refuses further callbacks and waits for in-flight ones.
func (g *Gate) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

// Reopen admits callbacks again.
func (g *Gate) Reopen() {
	g.mu.Lock()
	g.closed = false
	g.mu.Unlock()
}

// Closed reports whether the gate refuses callbacks.
func (g *Gate) Closed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closed
}
