package colorconv

import (
	"fmt"

	"github.com/e7canasta/orion-liveview/modules/frame"
)

// ErrInvalidFrameGeometry reports planes too short for the declared
// dimensions, odd dimensions or an unsupported chroma pixel stride.
var ErrInvalidFrameGeometry = fmt.Errorf("colorconv: %w", frame.ErrInvalidGeometry)

// YUV420 describes one camera image in YUV 4:2:0 layout.
//
// Y holds Width*Height luma bytes. U and V hold the chroma planes at half
// resolution in each dimension. PixelStride is the distance in bytes between
// two consecutive chroma samples of the same plane: 1 when U and V are
// separate planes, 2 when they are interleaved (U and V then alias the same
// memory, offset by one byte).
type YUV420 struct {
	Width       int
	Height      int
	Y           []byte
	U           []byte
	V           []byte
	PixelStride int
}

// ChromaSamples returns the number of chroma samples per plane.
func (img *YUV420) ChromaSamples() int {
	return (img.Width / 2) * (img.Height / 2)
}

// NV21Size returns the size of the NV21 intermediate for img.
func (img *YUV420) NV21Size() int {
	return img.Width*img.Height + 2*img.ChromaSamples()
}

// Validate checks dimensions, stride and plane lengths.
func (img *YUV420) Validate() error {
	if img == nil {
		return fmt.Errorf("%w: nil image", ErrInvalidFrameGeometry)
	}
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidFrameGeometry, img.Width, img.Height)
	}
	if img.Width%2 != 0 || img.Height%2 != 0 {
		return fmt.Errorf("%w: %dx%d is not 4:2:0 aligned", ErrInvalidFrameGeometry, img.Width, img.Height)
	}
	if ySize := img.Width * img.Height; len(img.Y) < ySize {
		return fmt.Errorf("%w: luma plane %d bytes, need %d", ErrInvalidFrameGeometry, len(img.Y), ySize)
	}

	n := img.ChromaSamples()
	var need int
	switch img.PixelStride {
	case 1:
		need = n
	case 2:
		need = (n-1)*2 + 1
	default:
		return fmt.Errorf("%w: chroma pixel stride %d", ErrInvalidFrameGeometry, img.PixelStride)
	}
	if len(img.U) < need || len(img.V) < need {
		return fmt.Errorf("%w: chroma planes U=%d V=%d bytes, need %d",
			ErrInvalidFrameGeometry, len(img.U), len(img.V), need)
	}
	return nil
}

// BuildNV21 lays img out as NV21: luma, then the chroma region.
func BuildNV21(img *YUV420) ([]byte, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	nv21 := make([]byte, img.NV21Size())
	fillNV21(nv21, img)
	return nv21, nil
}

func fillNV21(nv21 []byte, img *YUV420) {
	ySize := img.Width * img.Height
	n := img.ChromaSamples()

	copy(nv21[:ySize], img.Y[:ySize])

	if img.PixelStride == 1 {
		copy(nv21[ySize:ySize+n], img.V[:n])
		copy(nv21[ySize+n:ySize+2*n], img.U[:n])
		return
	}

	pos := ySize
	for i := 0; i < n; i++ {
		nv21[pos] = img.V[i*img.PixelStride]
		nv21[pos+1] = img.U[i*img.PixelStride]
		pos += 2
	}
}

// YUV420ToRGBA converts img into a new packed RGBA buffer of
// Width*Height*4 bytes.
func YUV420ToRGBA(img *YUV420) ([]byte, error) {
	return ConvertInto(nil, img)
}

// ConvertInto converts img into dst when dst is large enough, otherwise into
// a newly allocated buffer. The returned slice has exactly Width*Height*4 bytes.
func ConvertInto(dst []byte, img *YUV420) ([]byte, error) {
	nv21, err := BuildNV21(img)
	if err != nil {
		return nil, err
	}
	size := frame.Size(img.Width, img.Height)
	if cap(dst) < size {
		dst = make([]byte, size)
	}
	dst = dst[:size]
	nv21ToRGBA(dst, nv21, img.Width, img.Height)
	return dst, nil
}
