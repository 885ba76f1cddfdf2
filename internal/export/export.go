// Package export resizes the finished panorama and encodes it to disk in
// the requested image format.
package export

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	xdraw "golang.org/x/image/draw"
)

// DefaultJPEGQuality matches what the tile service itself serves.
const DefaultJPEGQuality = 92

// Format is an output image format.
type Format int

const (
	FormatJPEG Format = iota
	FormatPNG
	FormatWebP
)

// ParseFormat maps a user-supplied format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	default:
		return 0, fmt.Errorf("unknown format %q (expected jpg, png, or webp)", s)
	}
}

// Extension returns the file extension for the format, without a dot.
func (f Format) Extension() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatWebP:
		return "webp"
	default:
		return "jpg"
	}
}

func (f Format) String() string { return f.Extension() }

// Resize scales the image down so its width does not exceed maxWidth,
// preserving aspect ratio. Images already within the limit are returned
// unchanged; maxWidth <= 0 disables resizing.
func Resize(src image.Image, maxWidth int) image.Image {
	bounds := src.Bounds()
	if maxWidth <= 0 || bounds.Dx() <= maxWidth {
		return src
	}
	scale := float64(maxWidth) / float64(bounds.Dx())
	height := int(math.Round(float64(bounds.Dy()) * scale))
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Src, nil)
	return dst
}

// Encode writes the image to w in the given format. quality applies to JPEG
// only; non-positive values use DefaultJPEGQuality.
func Encode(w io.Writer, img image.Image, format Format, quality int) error {
	switch format {
	case FormatPNG:
		if err := png.Encode(w, img); err != nil {
			return fmt.Errorf("failed to encode png: %w", err)
		}
	case FormatWebP:
		if err := nativewebp.Encode(w, img, nil); err != nil {
			return fmt.Errorf("failed to encode webp: %w", err)
		}
	default:
		if quality <= 0 {
			quality = DefaultJPEGQuality
		}
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
			return fmt.Errorf("failed to encode jpeg: %w", err)
		}
	}
	return nil
}
