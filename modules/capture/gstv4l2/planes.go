package gstv4l2

import (
	"fmt"

	"github.com/e7canasta/orion-liveview/modules/colorconv"
)

// slicePlanes describes a tightly packed buffer as YUV420 planes without
// copying. GStreamer pads rows to 4 bytes, so widths must be multiples of 8
// for the chroma rows of I420 to be tight.
func slicePlanes(data []byte, width, height int, format Format) (*colorconv.YUV420, error) {
	ySize := width * height
	n := (width / 2) * (height / 2)
	if len(data) < ySize+2*n {
		return nil, fmt.Errorf("%w: buffer %d bytes, need %d for %dx%d %s",
			colorconv.ErrInvalidFrameGeometry, len(data), ySize+2*n, width, height, format)
	}

	img := &colorconv.YUV420{Width: width, Height: height, Y: data[:ySize]}
	switch format {
	case FormatNV21:
		img.V = data[ySize : ySize+2*n-1]
		img.U = data[ySize+1 : ySize+2*n]
		img.PixelStride = 2
	default:
		img.U = data[ySize : ySize+n]
		img.V = data[ySize+n : ySize+2*n]
		img.PixelStride = 1
	}
	return img, nil
}
