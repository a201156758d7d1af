package epubjpeg

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultQuality is the JPEG quality used when Options.Quality is zero.
const DefaultQuality = 85

// Transcoder re-encodes a single image as a baseline JPEG.
//
// Implementations must be safe for concurrent use; Convert calls Transcode
// from several goroutines when Options.Workers > 1. An error means the image
// could not be converted and the original bytes are kept.
type Transcoder interface {
	Transcode(data []byte, quality int) ([]byte, error)
}

// JPEGTranscoder decodes JPEG, PNG, GIF, WebP and BMP images and encodes
// them as baseline JPEG with a JFIF header. Transparent and palette images
// are composited onto white; every other color model is converted to RGB.
type JPEGTranscoder struct {
	// MaxDimension, when positive, downscales images whose longer side
	// exceeds it, preserving aspect ratio.
	MaxDimension int
}

// Transcode implements Transcoder.
func (t JPEGTranscoder) Transcode(data []byte, quality int) ([]byte, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	rgb := flatten(src)
	if t.MaxDimension > 0 {
		rgb = downscale(rgb, t.MaxDimension)
	}

	var buf bytes.Buffer
	// image/jpeg only writes baseline sequential JPEGs with standard
	// Huffman tables, which is exactly the single-scan output required.
	if err := jpeg.Encode(&jfifWriter{w: &buf}, rgb, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncodeFailed, format, err)
	}
	return buf.Bytes(), nil
}

// flatten returns an opaque RGBA copy of src. Images that can carry alpha
// (including palette images) are composited onto white; opaque images are
// converted directly.
func flatten(src image.Image) *image.RGBA {
	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	if hasAlpha(src) {
		draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
		draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)
		return dst
	}
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)
	return dst
}

// hasAlpha reports whether the image's color model can represent transparency.
func hasAlpha(img image.Image) bool {
	switch img.(type) {
	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64,
		*image.Paletted, *image.Alpha, *image.Alpha16, *image.NYCbCrA:
		return true
	default:
		return false
	}
}

// downscale shrinks img so that neither side exceeds limit.
func downscale(img *image.RGBA, limit int) *image.RGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w <= limit && h <= limit {
		return img
	}
	nw, nh := limit, limit
	if w >= h {
		nh = max(1, h*limit/w)
	} else {
		nw = max(1, w*limit/h)
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}
