package gstv4l2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-liveview/modules/colorconv"
)

func TestSlicePlanes_I420(t *testing.T) {
	data := make([]byte, 8*2+2*4)
	for i := range data {
		data[i] = byte(i)
	}

	img, err := slicePlanes(data, 8, 2, FormatI420)
	require.NoError(t, err)
	assert.Equal(t, 1, img.PixelStride)
	assert.Equal(t, []byte{16, 17, 18, 19}, img.U)
	assert.Equal(t, []byte{20, 21, 22, 23}, img.V)
	require.NoError(t, img.Validate())
}

func TestSlicePlanes_NV21(t *testing.T) {
	data := make([]byte, 8*2+2*4)
	copy(data[16:], []byte{200, 100, 201, 101, 202, 102, 203, 103})

	img, err := slicePlanes(data, 8, 2, FormatNV21)
	require.NoError(t, err)
	require.NoError(t, img.Validate())

	nv21, err := colorconv.BuildNV21(img)
	require.NoError(t, err)
	assert.Equal(t, data, nv21, "NV21 input survives the round trip unchanged")
}

func TestSlicePlanes_Short(t *testing.T) {
	_, err := slicePlanes(make([]byte, 10), 8, 2, FormatI420)
	assert.ErrorIs(t, err, colorconv.ErrInvalidFrameGeometry)
}

func TestParseFormatAndCaps(t *testing.T) {
	f, err := parseFormat("nv21")
	require.NoError(t, err)
	assert.Equal(t, FormatNV21, f)

	f, err = parseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatNV21, f)

	f, err = parseFormat("i420")
	require.NoError(t, err)
	assert.Equal(t, FormatI420, f)

	_, err = parseFormat("YUY2")
	assert.Error(t, err)

	assert.Equal(t, "video/x-raw,format=NV21,width=640,height=480", buildCaps(640, 480, FormatNV21))
}
