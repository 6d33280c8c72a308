package texture

// Viewporter is implemented by backends that present into a resizable surface.
type Viewporter interface {
	SetViewport(width, height int)
}

// Rect is an axis-aligned destination rectangle in surface pixels, origin at
// the bottom-left corner.
type Rect struct {
	X0, Y0, X1, Y1 int
}

// Letterbox fits a srcW×srcH image into a dstW×dstH surface preserving aspect
// ratio, centered, with bars on the constrained axis.
func Letterbox(srcW, srcH, dstW, dstH int) Rect {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return Rect{}
	}

	// Compare srcW/srcH with dstW/dstH without floating point.
	if srcW*dstH > dstW*srcH {
		h := dstW * srcH / srcW
		y := (dstH - h) / 2
		return Rect{X0: 0, Y0: y, X1: dstW, Y1: y + h}
	}
	w := dstH * srcW / srcH
	x := (dstW - w) / 2
	return Rect{X0: x, Y0: 0, X1: x + w, Y1: dstH}
}

// Resize forwards the surface size to the backend.
func (u *Uploader) Resize(width, height int) {
	if v, ok := u.backend.(Viewporter); ok {
		v.SetViewport(width, height)
	}
}

// SetViewport implements Viewporter.
func (m *MemoryBackend) SetViewport(width, height int) {
	m.mu.Lock()
	m.viewW, m.viewH = width, height
	m.mu.Unlock()
}

// Viewport returns the last surface size set.
func (m *MemoryBackend) Viewport() (width, height int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewW, m.viewH
}
