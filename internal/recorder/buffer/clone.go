package buffer

import (
	"image"
	"image/draw"
)

// CloneImage copies img into memory owned by the caller. Drivers that reuse
// their frame buffers must have frames cloned before release.
func CloneImage(img image.Image) image.Image {
	switch src := img.(type) {
	case nil:
		return nil
	case *image.RGBA:
		dst := *src
		dst.Pix = append([]byte(nil), src.Pix...)
		return &dst
	case *image.NRGBA:
		dst := *src
		dst.Pix = append([]byte(nil), src.Pix...)
		return &dst
	case *image.Gray:
		dst := *src
		dst.Pix = append([]byte(nil), src.Pix...)
		return &dst
	case *image.YCbCr:
		dst := *src
		dst.Y = append([]byte(nil), src.Y...)
		dst.Cb = append([]byte(nil), src.Cb...)
		dst.Cr = append([]byte(nil), src.Cr...)
		return &dst
	default:
		bounds := img.Bounds()
		dst := image.NewRGBA(bounds)
		draw.Draw(dst, bounds, img, bounds.Min, draw.Src)
		return dst
	}
}
