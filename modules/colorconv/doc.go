// Package colorconv converts planar YUV 4:2:0 camera images into packed
// RGBA8 buffers.
//
// Conversion runs in two steps:
//
//  1. BuildNV21: luma plane copied verbatim, followed by the chroma region.
//     PixelStride 1 (planar chroma): V plane then U plane, copied as-is.
//     PixelStride 2 (interleaved chroma): V,U pairs de-interleaved by
//     striding through both planes.
//  2. NV21ToRGBA: BT.601 integer-range conversion, each 2×2 luma block
//     sharing the chroma pair at row (j>>1)·W, column (i &^ 1).
//
// All functions are pure. Malformed input returns ErrInvalidFrameGeometry
// and never reads out of bounds.
package colorconv
