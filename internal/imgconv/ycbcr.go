// Package imgconv converts decoded camera frames into the packed layouts
// OpenCV expects.
package imgconv

import (
	"fmt"
	"image"
	"sync"
)

// YCbCr to RGB lookup tables (BT.601 full range, 16.16 fixed point)
var (
	ycbcrOnce  sync.Once
	ycbcrTable struct {
		cr2r [256]int32
		cb2b [256]int32
		cr2g [256]int32
		cb2g [256]int32
	}
)

func initYCbCrTables() {
	ycbcrOnce.Do(func() {
		for i := 0; i < 256; i++ {
			c := int32(i) - 128
			ycbcrTable.cr2r[i] = (91881*c + (1 << 15)) >> 16
			ycbcrTable.cb2b[i] = (116130*c + (1 << 15)) >> 16
			ycbcrTable.cr2g[i] = (46802*c + (1 << 15)) >> 16
			ycbcrTable.cb2g[i] = (22554*c + (1 << 15)) >> 16
		}
	})
}

// YCbCrToBGR writes im as packed 8-bit BGR into dst, which must hold
// 3*width*height bytes. Any subsampling ratio and origin is handled.
func YCbCrToBGR(dst []byte, im *image.YCbCr) error {
	b := im.Bounds()
	w, h := b.Dx(), b.Dy()
	if len(dst) < 3*w*h {
		return fmt.Errorf("imgconv: dst holds %d bytes, need %d", len(dst), 3*w*h)
	}
	initYCbCrTables()

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			yy := int32(im.Y[im.YOffset(x, y)])
			ci := im.COffset(x, y)
			cb, cr := im.Cb[ci], im.Cr[ci]

			dst[i] = clamp(yy + ycbcrTable.cb2b[cb])
			dst[i+1] = clamp(yy - ycbcrTable.cb2g[cb] - ycbcrTable.cr2g[cr])
			dst[i+2] = clamp(yy + ycbcrTable.cr2r[cr])
			i += 3
		}
	}
	return nil
}

func clamp(v int32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
