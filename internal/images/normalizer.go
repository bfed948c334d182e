// Package images handles bounded decoding, downsampling and re-encoding of
// untrusted image bytes. Decoding is two-pass: the header is read first so a
// downsample factor can be chosen before pixels are materialized at full
// working size.
package images

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	_ "image/gif"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUndecodable marks input that no registered decoder accepts. It is a
// per-unit failure, never fatal to a batch.
var ErrUndecodable = errors.New("undecodable image")

const (
	// DefaultMaxDimension bounds the longest side of a decoded working image.
	DefaultMaxDimension = 2048
	// DefaultThumbnailSize is the square the thumbnail must fit into.
	DefaultThumbnailSize = 256
	// DefaultJPEGQuality is used when re-encoding the full-size image.
	DefaultJPEGQuality = 90
)

// Raster is a decoded image along with its intrinsic (pre-downsample)
// dimensions, which are what gets persisted on the entity.
type Raster struct {
	Image  image.Image
	Width  int // intrinsic source width
	Height int // intrinsic source height
}

// DownsampleFactor returns the largest power-of-two factor that keeps both
// dimensions at or below maxDimension. Returns 1 when no downsampling is
// needed.
func DownsampleFactor(width, height, maxDimension int) int {
	factor := 1
	for width/factor > maxDimension || height/factor > maxDimension {
		factor *= 2
	}
	return factor
}

// LoadBounded decodes an image with its working size bounded by
// maxDimension. The first pass reads only the header for the intrinsic
// dimensions; the second decodes and scales down by the computed
// power-of-two factor.
func LoadBounded(r io.ReadSeeker, maxDimension int) (*Raster, error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: non-positive dimensions %dx%d", ErrUndecodable, cfg.Width, cfg.Height)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind image source: %w", err)
	}

	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	factor := DownsampleFactor(cfg.Width, cfg.Height, maxDimension)
	if factor > 1 {
		img = scale(img, cfg.Width/factor, cfg.Height/factor)
	}

	return &Raster{Image: img, Width: cfg.Width, Height: cfg.Height}, nil
}

// LoadBoundedBytes is a convenience wrapper over LoadBounded for in-memory
// sources.
func LoadBoundedBytes(data []byte, maxDimension int) (*Raster, error) {
	return LoadBounded(bytes.NewReader(data), maxDimension)
}

// Thumbnail uniformly scales img to fit within a targetSize square,
// preserving aspect ratio.
func Thumbnail(img image.Image, targetSize int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= targetSize && h <= targetSize {
		return img
	}

	var tw, th int
	if w >= h {
		tw = targetSize
		th = h * targetSize / w
	} else {
		th = targetSize
		tw = w * targetSize / h
	}
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}
	return scale(img, tw, th)
}

// Encode re-encodes img in the named format. Supported: "jpeg", "png".
// quality applies to JPEG only.
func Encode(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case "jpeg", "jpg":
		if quality <= 0 || quality > 100 {
			quality = DefaultJPEGQuality
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("jpeg encode: %w", err)
		}
	case "png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("png encode: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported encode format %q", format)
	}
	return buf.Bytes(), nil
}

// DetectMIME sniffs the media type from the leading bytes of an image.
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}

func scale(img image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}
