// Package geometry unifies the user-facing angular framing options (field of
// view, directional half-clip, bottom trim) into a single pixel-space crop
// window. All angular-to-pixel conversion happens here and nowhere else, so
// the fov and clip paths can never disagree about the coordinate origin.
package geometry

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math"
)

// ErrInvalidParameter reports a framing value outside its documented range.
// Validation happens before any network or pixel work.
var ErrInvalidParameter = errors.New("invalid parameter")

const (
	// MinFOV and MaxFOV bound the --fov flag in degrees.
	MinFOV = 60
	MaxFOV = 360

	// clipSpan is the angular width selected by a half-clip.
	clipSpan = 180
)

// Clip selects one 180-degree hemisphere of the panorama relative to the
// viewing heading.
type Clip int

const (
	ClipNone Clip = iota
	ClipRight      // forward hemisphere, centered on the heading
	ClipLeft       // rear hemisphere, centered on heading+180
)

// ParseClip converts a --clip flag value.
func ParseClip(s string) (Clip, error) {
	switch s {
	case "":
		return ClipNone, nil
	case "right":
		return ClipRight, nil
	case "left":
		return ClipLeft, nil
	}
	return ClipNone, fmt.Errorf("%w: clip must be \"left\" or \"right\", got %q", ErrInvalidParameter, s)
}

// Framing carries the parsed user intents. Zero values mean "not requested":
// FOV 0 disables angular cropping, BottomFraction 0 keeps the full height.
type Framing struct {
	FOV            float64
	Clip           Clip
	BottomFraction float64
}

// Validate checks all framing ranges. It is called before any tile is
// fetched so a typo costs zero network traffic.
func (f Framing) Validate() error {
	if f.FOV != 0 && (f.FOV < MinFOV || f.FOV > MaxFOV) {
		return fmt.Errorf("%w: fov %.1f outside [%d,%d]", ErrInvalidParameter, f.FOV, MinFOV, MaxFOV)
	}
	if f.BottomFraction != 0 && (f.BottomFraction <= 0 || f.BottomFraction > 1) {
		return fmt.Errorf("%w: crop-bottom %.3f outside (0,1]", ErrInvalidParameter, f.BottomFraction)
	}
	return nil
}

// active reports whether any cropping is requested at all.
func (f Framing) active() bool {
	return f.FOV != 0 || f.Clip != ClipNone || (f.BottomFraction != 0 && f.BottomFraction != 1)
}

// CropWindow is the resolved pixel-space crop. The column window spans
// [ColStart, ColEnd), or [ColStart, width) followed by [0, ColEnd) when
// Wraps is set. RowEnd trims the image to its top RowEnd rows.
type CropWindow struct {
	ColStart int
	ColEnd   int
	Wraps    bool
	RowEnd   int
}

// OutWidth returns the pixel width of the cropped output for a panorama of
// the given width.
func (w CropWindow) OutWidth(panoWidth int) int {
	if w.Wraps {
		return (panoWidth - w.ColStart) + w.ColEnd
	}
	return w.ColEnd - w.ColStart
}

// pxFor maps a heading in degrees to a pixel column. The panorama's left
// edge is heading 0 and the horizontal axis spans exactly 360 degrees.
func pxFor(deg float64, width int) int {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return int(math.Round(deg / 360 * float64(width)))
}

// ResolveWindow turns the angular framing into one consistent pixel window.
// headingDeg is the descriptor's viewing heading. Advisories are non-fatal
// warnings the caller should surface; the returned window is still usable.
func ResolveWindow(headingDeg float64, f Framing, width, height int) (CropWindow, []string, error) {
	if err := f.Validate(); err != nil {
		return CropWindow{}, nil, err
	}

	w := CropWindow{ColStart: 0, ColEnd: width, RowEnd: height}
	var advisories []string

	center := headingDeg
	span := 0.0

	switch {
	case f.Clip != ClipNone:
		if f.Clip == ClipLeft {
			center = math.Mod(headingDeg+180, 360)
		}
		span = clipSpan
		if f.FOV != 0 && f.FOV < clipSpan {
			// Clip overrides a narrower fov outright.
			advisories = append(advisories,
				fmt.Sprintf("clip selects a 180° hemisphere; fov=%.0f is overridden", f.FOV))
		} else if f.FOV > clipSpan {
			// Widen symmetrically around the clip side's center. The
			// extra degrees extend into the clipped-away hemisphere,
			// which may not be what the user meant.
			span = math.Min(f.FOV, 360)
			advisories = append(advisories,
				fmt.Sprintf("fov=%.0f with clip widens past the selected hemisphere; using the clip center as ground truth", f.FOV))
		}
	case f.FOV != 0:
		span = f.FOV
	}

	if span > 0 && span < 360 {
		// The end column is derived from the start plus the span's pixel
		// width, not from wrapping the end angle: an end landing exactly on
		// 360 must resolve to the right edge, not to column 0.
		w.ColStart = pxFor(center-span/2, width)
		if w.ColStart == width {
			w.ColStart = 0
		}
		end := w.ColStart + int(math.Round(span/360*float64(width)))
		if end > width {
			w.ColEnd = end - width
			w.Wraps = true
		} else {
			w.ColEnd = end
		}
	}

	if f.BottomFraction != 0 {
		// Bottom trim is measured on the assembled height, independent of
		// the horizontal window.
		w.RowEnd = int(math.Round(f.BottomFraction * float64(height)))
		if w.RowEnd < 1 {
			w.RowEnd = 1
		}
	}

	return w, advisories, nil
}

// Crop resolves the framing against the panorama and materializes the
// cropped raster. A wrapped window is reassembled by concatenating the two
// slices so output columns stay continuous in heading.
func Crop(src *image.RGBA, headingDeg float64, f Framing) (*image.RGBA, []string, error) {
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	window, advisories, err := ResolveWindow(headingDeg, f, width, height)
	if err != nil {
		return nil, advisories, err
	}
	if !f.active() {
		return src, advisories, nil
	}

	return Apply(src, window), advisories, nil
}

// Apply copies the window out of the source raster.
func Apply(src *image.RGBA, w CropWindow) *image.RGBA {
	srcWidth := src.Bounds().Dx()
	outWidth := w.OutWidth(srcWidth)
	out := image.NewRGBA(image.Rect(0, 0, outWidth, w.RowEnd))

	if !w.Wraps {
		draw.Draw(out, out.Bounds(), src, image.Pt(w.ColStart, 0), draw.Src)
		return out
	}

	// Right slice of the source becomes the left side of the output.
	leftWidth := srcWidth - w.ColStart
	draw.Draw(out, image.Rect(0, 0, leftWidth, w.RowEnd), src, image.Pt(w.ColStart, 0), draw.Src)
	draw.Draw(out, image.Rect(leftWidth, 0, outWidth, w.RowEnd), src, image.Pt(0, 0), draw.Src)
	return out
}
