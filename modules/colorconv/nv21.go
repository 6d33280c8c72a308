package colorconv

import (
	"fmt"

	"github.com/e7canasta/orion-liveview/modules/frame"
)

// NV21ToRGBA converts an NV21 buffer of the given dimensions into packed RGBA.
func NV21ToRGBA(nv21 []byte, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidFrameGeometry, width, height)
	}
	if need := width*height + width*height/2; len(nv21) < need {
		return nil, fmt.Errorf("%w: nv21 buffer %d bytes, need %d", ErrInvalidFrameGeometry, len(nv21), need)
	}
	rgba := make([]byte, frame.Size(width, height))
	nv21ToRGBA(rgba, nv21, width, height)
	return rgba, nil
}

// nv21ToRGBA assumes validated geometry.
//
// Chroma addressing is (j>>1)*w + (i &^ 1): every 2-column pair of a 2-row
// block reads the same V,U pair at the even column.
func nv21ToRGBA(rgba, nv21 []byte, w, h int) {
	frameSize := w * h
	idx := 0
	for j := 0; j < h; j++ {
		row := j * w
		chromaRow := frameSize + (j>>1)*w
		for i := 0; i < w; i++ {
			y := int(nv21[row+i])
			c := chromaRow + (i &^ 1)
			v := int(nv21[c])
			u := int(nv21[c+1])

			rgba[idx] = clamp(1.164*float32(y-16) + 1.596*float32(v-128))
			rgba[idx+1] = clamp(1.164*float32(y-16) - 0.813*float32(v-128) - 0.391*float32(u-128))
			rgba[idx+2] = clamp(1.164*float32(y-16) + 2.018*float32(u-128))
			rgba[idx+3] = 255
			idx += 4
		}
	}
}

// clamp truncates toward zero, then clamps to [0,255].
func clamp(x float32) byte {
	n := int(x)
	if n < 0 {
		return 0
	}
	if n > 255 {
		return 255
	}
	return byte(n)
}
