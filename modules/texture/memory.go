package texture

import (
	"fmt"
	"sync"
)

// MemoryBackend keeps texture storage in process memory. It backs headless
// runs and tests.
type MemoryBackend struct {
	mu       sync.Mutex
	next     Handle
	textures map[Handle]*memTexture
	draws    uint64
	clears   uint64
	viewW    int
	viewH    int
}

type memTexture struct {
	width, height int
	pixels        []byte
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{textures: make(map[Handle]*memTexture)}
}

// Generate implements Backend.
func (m *MemoryBackend) Generate() (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.textures[m.next] = &memTexture{}
	return m.next, nil
}

// Allocate implements Backend.
func (m *MemoryBackend) Allocate(h Handle, width, height int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.textures[h]
	if !ok {
		return fmt.Errorf("memory backend: unknown texture %d", h)
	}
	t.width, t.height = width, height
	t.pixels = make([]byte, width*height*4)
	copy(t.pixels, data)
	return nil
}

// Update implements Backend.
func (m *MemoryBackend) Update(h Handle, width, height int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.textures[h]
	if !ok {
		return fmt.Errorf("memory backend: unknown texture %d", h)
	}
	if t.width != width || t.height != height {
		return fmt.Errorf("memory backend: update %dx%d over %dx%d storage", width, height, t.width, t.height)
	}
	copy(t.pixels, data)
	return nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.textures, h)
}

// Clear implements Drawer.
func (m *MemoryBackend) Clear() {
	m.mu.Lock()
	m.clears++
	m.mu.Unlock()
}

// Draw implements Drawer.
func (m *MemoryBackend) Draw(Handle, int, int) {
	m.mu.Lock()
	m.draws++
	m.mu.Unlock()
}

// Pixels returns a copy of the storage of h, or nil if h is unknown.
func (m *MemoryBackend) Pixels(h Handle) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.textures[h]
	if !ok {
		return nil
	}
	out := make([]byte, len(t.pixels))
	copy(out, t.pixels)
	return out
}

// Live returns the number of textures not yet deleted.
func (m *MemoryBackend) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.textures)
}

// Draws returns how many times Draw and Clear were called.
func (m *MemoryBackend) Draws() (draws, clears uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draws, m.clears
}
