package camera

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/mikeyg42/pianocam/internal/imgconv"
)

// JPEGCodec compresses frames with OpenCV's JPEG encoder. It implements
// encoder.ImageCodec.
type JPEGCodec struct{}

// CodecID is the Matroska id for motion JPEG.
func (JPEGCodec) CodecID() string { return "V_MJPEG" }

// Encode compresses img at quality 1..100.
func (JPEGCodec) Encode(img image.Image, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		quality = 90
	}
	mat, err := toMat(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	defer buf.Close()

	// The native buffer is freed by Close.
	return append([]byte(nil), buf.GetBytes()...), nil
}

// toMat converts img to a BGR Mat owned by the caller.
func toMat(img image.Image) (gocv.Mat, error) {
	if img == nil {
		return gocv.NewMat(), fmt.Errorf("camera: nil image")
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return gocv.NewMat(), fmt.Errorf("camera: empty image bounds")
	}

	switch im := img.(type) {
	case *image.RGBA:
		return packedToBGR(im.Pix, im.Stride, im.Rect, 4, gocv.MatTypeCV8UC4, gocv.ColorRGBAToBGR)
	case *image.NRGBA:
		return packedToBGR(im.Pix, im.Stride, im.Rect, 4, gocv.MatTypeCV8UC4, gocv.ColorRGBAToBGR)
	case *image.Gray:
		return packedToBGR(im.Pix, im.Stride, im.Rect, 1, gocv.MatTypeCV8UC1, gocv.ColorGrayToBGR)
	case *image.YCbCr:
		return ycbcrToMat(im)
	default:
		return genericToBGR(img)
	}
}

// packedToBGR repacks rows when stride or origin prevent direct use, then
// converts with OpenCV.
func packedToBGR(pix []byte, stride int, rect image.Rectangle, bpp int, mt gocv.MatType, code gocv.ColorConversionCode) (gocv.Mat, error) {
	w, h := rect.Dx(), rect.Dy()
	data := pix
	if stride != w*bpp || !rect.Min.Eq(image.Point{}) {
		data = make([]byte, w*h*bpp)
		for y := 0; y < h; y++ {
			src := (y+rect.Min.Y)*stride + rect.Min.X*bpp
			copy(data[y*w*bpp:(y+1)*w*bpp], pix[src:src+w*bpp])
		}
	}

	mat, err := gocv.NewMatFromBytes(h, w, mt, data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("camera: mat from bytes: %w", err)
	}
	defer mat.Close()

	dst := gocv.NewMat()
	gocv.CvtColor(mat, &dst, code)
	return dst, nil
}

// ycbcrToMat writes the planes straight into the Mat through lookup tables.
func ycbcrToMat(im *image.YCbCr) (gocv.Mat, error) {
	b := im.Bounds()
	mat := gocv.NewMatWithSize(b.Dy(), b.Dx(), gocv.MatTypeCV8UC3)
	data, err := mat.DataPtrUint8()
	if err != nil {
		mat.Close()
		return gocv.NewMat(), fmt.Errorf("camera: mat data: %w", err)
	}
	if err := imgconv.YCbCrToBGR(data, im); err != nil {
		mat.Close()
		return gocv.NewMat(), err
	}
	return mat, nil
}

// genericToBGR covers anything else through the color model.
func genericToBGR(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)

	data, err := mat.DataPtrUint8()
	if err != nil {
		mat.Close()
		return gocv.NewMat(), fmt.Errorf("camera: mat data: %w", err)
	}

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			data[i] = uint8(b >> 8)
			data[i+1] = uint8(g >> 8)
			data[i+2] = uint8(r >> 8)
			i += 3
		}
	}
	return mat, nil
}
