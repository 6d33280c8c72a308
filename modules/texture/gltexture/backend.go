// Package gltexture implements texture.Backend on OpenGL 4.1 core through
// go-gl.
//
// Every method must be called on the goroutine that owns the current GL
// context (see runtime.LockOSThread in cmd/liveview).
package gltexture

import (
	"fmt"

	"github.com/go-gl/gl/v4.1-core/gl"

	"github.com/e7canasta/orion-liveview/modules/texture"
)

// Init loads GL function pointers for the current context and returns the
// driver version string.
func Init() (string, error) {
	if err := gl.Init(); err != nil {
		return "", fmt.Errorf("gltexture: init: %w", err)
	}
	return gl.GoStr(gl.GetString(gl.VERSION)), nil
}

// Backend uploads RGBA8 textures and presents them with a framebuffer blit.
type Backend struct {
	readFBO uint32
	viewW   int
	viewH   int
}

var (
	_ texture.Backend    = (*Backend)(nil)
	_ texture.Drawer     = (*Backend)(nil)
	_ texture.Viewporter = (*Backend)(nil)
)

// New creates a backend. Init must have been called.
func New() *Backend {
	return &Backend{}
}

// Generate implements texture.Backend. Filtering is linear, wrapping is
// clamp-to-edge.
func (b *Backend) Generate() (texture.Handle, error) {
	// The read framebuffer belongs to the context too; recreate it alongside.
	gl.GenFramebuffers(1, &b.readFBO)

	var tex uint32
	gl.GenTextures(1, &tex)
	if tex == 0 {
		return 0, fmt.Errorf("gltexture: glGenTextures returned 0 (error 0x%x)", gl.GetError())
	}

	gl.BindTexture(gl.TEXTURE_2D, tex)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.BindTexture(gl.TEXTURE_2D, 0)

	return texture.Handle(tex), nil
}

// Allocate implements texture.Backend.
func (b *Backend) Allocate(h texture.Handle, width, height int, data []byte) error {
	gl.BindTexture(gl.TEXTURE_2D, uint32(h))
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, int32(width), int32(height), 0,
		gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(data))
	gl.BindTexture(gl.TEXTURE_2D, 0)
	return glError("glTexImage2D")
}

// Update implements texture.Backend.
func (b *Backend) Update(h texture.Handle, width, height int, data []byte) error {
	gl.BindTexture(gl.TEXTURE_2D, uint32(h))
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, int32(width), int32(height),
		gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(data))
	gl.BindTexture(gl.TEXTURE_2D, 0)
	return glError("glTexSubImage2D")
}

// Delete implements texture.Backend.
func (b *Backend) Delete(h texture.Handle) {
	tex := uint32(h)
	gl.DeleteTextures(1, &tex)
	if b.readFBO != 0 {
		gl.DeleteFramebuffers(1, &b.readFBO)
		b.readFBO = 0
	}
}

// SetViewport implements texture.Viewporter.
func (b *Backend) SetViewport(width, height int) {
	b.viewW, b.viewH = width, height
	gl.Viewport(0, 0, int32(width), int32(height))
}

// Clear implements texture.Drawer.
func (b *Backend) Clear() {
	gl.BindFramebuffer(gl.DRAW_FRAMEBUFFER, 0)
	gl.ClearColor(0, 0, 0, 1)
	gl.Clear(gl.COLOR_BUFFER_BIT)
}

// Draw implements texture.Drawer. Frame rows are top-first while GL's origin
// is bottom-left, so the blit flips the destination vertically.
func (b *Backend) Draw(h texture.Handle, width, height int) {
	b.Clear()

	dst := texture.Letterbox(width, height, b.viewW, b.viewH)
	if dst == (texture.Rect{}) || b.readFBO == 0 {
		return
	}

	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, b.readFBO)
	gl.FramebufferTexture2D(gl.READ_FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, uint32(h), 0)
	gl.BlitFramebuffer(
		0, 0, int32(width), int32(height),
		int32(dst.X0), int32(dst.Y1), int32(dst.X1), int32(dst.Y0),
		gl.COLOR_BUFFER_BIT, gl.LINEAR,
	)
	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, 0)
}

func glError(op string) error {
	if code := gl.GetError(); code != gl.NO_ERROR {
		return fmt.Errorf("gltexture: %s: GL error 0x%x", op, code)
	}
	return nil
}
