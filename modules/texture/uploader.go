// Package texture owns the display texture: its identity, its dimensions and
// the upload policy.
//
// Storage is reallocated only when an incoming frame has different dimensions
// from the current storage; same-size frames are written as a sub-region
// update over the existing storage. All methods except Stats must run on the
// render context, the only context allowed to issue GPU calls.
package texture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-liveview/modules/frame"
)

// ErrSurfaceNotReady is returned by Upload before OnSurfaceCreated.
var ErrSurfaceNotReady = errors.New("texture: surface not ready")

// Handle identifies a texture in a Backend.
type Handle uint32

// Backend performs the actual storage operations.
type Backend interface {
	// Generate creates a new texture object with sampling parameters set.
	Generate() (Handle, error)
	// Allocate (re)defines the storage of h as width×height RGBA8 and writes data.
	Allocate(h Handle, width, height int, data []byte) error
	// Update overwrites the full width×height region of existing storage.
	Update(h Handle, width, height int, data []byte) error
	// Delete releases h.
	Delete(h Handle)
}

// Drawer is implemented by backends that can present the texture.
type Drawer interface {
	Clear()
	Draw(h Handle, width, height int)
}

// State is the uploader's view of the current texture.
type State struct {
	Handle Handle
	Width  int
	Height int
	Valid  bool
}

// Stats counts storage operations.
type Stats struct {
	Reallocations uint64
	Updates       uint64
	Failures      uint64
}

// Uploader applies the realloc-on-resize policy on top of a Backend.
type Uploader struct {
	backend Backend

	mu    sync.Mutex
	state State

	reallocations atomic.Uint64
	updates       atomic.Uint64
	failures      atomic.Uint64
}

// NewUploader creates an Uploader with no surface yet.
func NewUploader(b Backend) *Uploader {
	return &Uploader{backend: b}
}

// OnSurfaceCreated generates a fresh texture. Any previous handle belonged to
// the lost surface and is forgotten; dimensions reset so the next upload
// reallocates.
func (u *Uploader) OnSurfaceCreated() error {
	h, err := u.backend.Generate()
	if err != nil {
		u.failures.Add(1)
		return fmt.Errorf("texture: generate: %w", err)
	}

	u.mu.Lock()
	u.state = State{Handle: h, Valid: true}
	u.mu.Unlock()
	return nil
}

// Upload writes f into the texture, reallocating storage only on a
// dimension change.
func (u *Uploader) Upload(f *frame.Frame) error {
	if err := f.Validate(); err != nil {
		u.failures.Add(1)
		return fmt.Errorf("texture: upload: %w", err)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.state.Valid {
		return ErrSurfaceNotReady
	}

	if f.Width != u.state.Width || f.Height != u.state.Height {
		if err := u.backend.Allocate(u.state.Handle, f.Width, f.Height, f.Data); err != nil {
			u.failures.Add(1)
			return fmt.Errorf("texture: allocate %s: %w", f.Resolution(), err)
		}
		u.state.Width = f.Width
		u.state.Height = f.Height
		u.reallocations.Add(1)
		return nil
	}

	if err := u.backend.Update(u.state.Handle, f.Width, f.Height, f.Data); err != nil {
		u.failures.Add(1)
		return fmt.Errorf("texture: update %s: %w", f.Resolution(), err)
	}
	u.updates.Add(1)
	return nil
}

// Draw presents the current texture, or clears when nothing was uploaded yet.
// It is a no-op for backends that do not implement Drawer.
func (u *Uploader) Draw() {
	d, ok := u.backend.(Drawer)
	if !ok {
		return
	}

	u.mu.Lock()
	st := u.state
	u.mu.Unlock()

	if !st.Valid || st.Width == 0 {
		d.Clear()
		return
	}
	d.Draw(st.Handle, st.Width, st.Height)
}

// Release deletes the texture. The uploader returns to the no-surface state.
func (u *Uploader) Release() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state.Valid {
		u.backend.Delete(u.state.Handle)
	}
	u.state = State{}
}

// State returns the current texture state.
func (u *Uploader) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Stats returns a snapshot of the counters. Safe from any goroutine.
func (u *Uploader) Stats() Stats {
	return Stats{
		Reallocations: u.reallocations.Load(),
		Updates:       u.updates.Load(),
		Failures:      u.failures.Load(),
	}
}
