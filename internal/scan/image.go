package scan

import (
	"bytes"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	verrors "github.com/medverify/medverify/internal/errors"
)

// DefaultMaxSide bounds the long edge before any model sees the frame.
// Phone cameras ship 4000px frames; the detector works at 640.
const DefaultMaxSide = 1600

// DecodeImage decodes a jpeg/png/webp payload and downscales it so the long
// edge is at most maxSide (0 means DefaultMaxSide).
func DecodeImage(data []byte, maxSide int) (image.Image, error) {
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, verrors.New(verrors.ErrCodeInvalidImage, "image decode failed", err).
			WithSuggestion("send a jpeg, png, or webp image")
	}
	return Downscale(img, maxSide), nil
}

// Downscale returns img resized so max(w, h) <= maxSide, preserving aspect
// ratio. Images already within bounds are returned as-is.
func Downscale(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	long := w
	if h > long {
		long = h
	}
	if long <= maxSide {
		return img
	}

	scale := float64(maxSide) / float64(long)
	nw := int(float64(w)*scale + 0.5)
	nh := int(float64(h)*scale + 0.5)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// Crop cuts box out of img with pad pixels of margin on each side, clamped
// to the image bounds. A degenerate box yields the full image.
func Crop(img image.Image, box Box, pad int) image.Image {
	b := img.Bounds()
	x1, y1 := box.X1-pad, box.Y1-pad
	x2, y2 := box.X2+pad, box.Y2+pad

	if x1 < b.Min.X {
		x1 = b.Min.X
	}
	if y1 < b.Min.Y {
		y1 = b.Min.Y
	}
	if x2 > b.Max.X {
		x2 = b.Max.X
	}
	if y2 > b.Max.Y {
		y2 = b.Max.Y
	}
	if x2 <= x1 || y2 <= y1 {
		return img
	}

	r := image.Rect(x1, y1, x2, y2)
	if sub, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(r)
	}

	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Copy(dst, image.Point{}, img, r, draw.Over, nil)
	return dst
}

// EncodeJPEG renders img for the vision sidecars.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, verrors.Wrap(verrors.ErrCodeInternal, err)
	}
	return buf.Bytes(), nil
}
