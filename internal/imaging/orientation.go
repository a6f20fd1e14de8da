// Package imaging prepares uploaded photos for storage: it bakes the EXIF
// orientation into the pixels and caps the image size.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/nfnt/resize"
	"github.com/rwcarlsen/goexif/exif"
)

// EXIF orientation values, see the TIFF 6.0 Orientation tag.
const (
	orientNormal     = 1
	orientFlipH      = 2
	orientRotate180  = 3
	orientFlipV      = 4
	orientTranspose  = 5
	orientRotateCW   = 6
	orientTransverse = 7
	orientRotateCCW  = 8
)

// Normalizer rewrites raw uploads so they display upright without
// relying on orientation metadata.
type Normalizer struct {
	// MaxDimension bounds width and height, 0 keeps the original size.
	MaxDimension uint
	// JPEGQuality is used when re-encoding JPEGs.
	JPEGQuality int
}

// NewNormalizer returns a normalizer that downsizes to maxDimension.
func NewNormalizer(maxDimension uint) *Normalizer {
	return &Normalizer{MaxDimension: maxDimension, JPEGQuality: 90}
}

// Normalize decodes raw, applies its EXIF orientation to the pixels and
// re-encodes it in its original format. The output carries no EXIF data,
// so its orientation reads as normal.
func (n *Normalizer) Normalize(raw []byte) ([]byte, string, error) {
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	img = Orient(img, readOrientation(raw))

	if n.MaxDimension > 0 {
		b := img.Bounds()
		if uint(b.Dx()) > n.MaxDimension || uint(b.Dy()) > n.MaxDimension {
			img = resize.Thumbnail(n.MaxDimension, n.MaxDimension, img, resize.Lanczos3)
		}
	}

	var buf bytes.Buffer
	switch format {
	case "png":
		err = png.Encode(&buf, img)
	case "gif":
		err = gif.Encode(&buf, img, nil)
	default:
		quality := n.JPEGQuality
		if quality <= 0 {
			quality = jpeg.DefaultQuality
		}
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
		format = "jpeg"
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return buf.Bytes(), format, nil
}

// readOrientation returns the EXIF orientation, or normal when the image
// has none.
func readOrientation(raw []byte) int {
	x, err := exif.Decode(bytes.NewReader(raw))
	if err != nil {
		return orientNormal
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return orientNormal
	}
	v, err := tag.Int(0)
	if err != nil || v < orientNormal || v > orientRotateCCW {
		return orientNormal
	}
	return v
}

// Orient rearranges the pixels of img as described by an EXIF orientation.
func Orient(img image.Image, orientation int) image.Image {
	if orientation <= orientNormal || orientation > orientRotateCCW {
		return img
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	dw, dh := w, h
	if orientation >= orientTranspose {
		dw, dh = h, w
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch orientation {
			case orientFlipH:
				dx, dy = w-1-x, y
			case orientRotate180:
				dx, dy = w-1-x, h-1-y
			case orientFlipV:
				dx, dy = x, h-1-y
			case orientTranspose:
				dx, dy = y, x
			case orientRotateCW:
				dx, dy = h-1-y, x
			case orientTransverse:
				dx, dy = h-1-y, w-1-x
			case orientRotateCCW:
				dx, dy = y, w-1-x
			}
			dst.Set(dx, dy, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}
