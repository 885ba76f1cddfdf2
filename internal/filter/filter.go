// Package filter implements the deterministic pixel pipeline: an optional
// artistic preset followed by brightness, contrast and saturation
// adjustments, always in that order so output is reproducible.
package filter

import (
	"errors"
	"fmt"
	"image"
)

// ErrInvalidParameter reports an adjustment factor outside its documented
// range. Validation runs before any network or pixel work.
var ErrInvalidParameter = errors.New("invalid parameter")

// Adjustment factor bounds. Saturation additionally allows 0 (full
// desaturation).
const (
	MinFactor = 0.1
	MaxFactor = 3.0
)

// Preset names an artistic filter.
type Preset string

const (
	PresetNone    Preset = "none"
	PresetBW      Preset = "bw"
	PresetSepia   Preset = "sepia"
	PresetVintage Preset = "vintage"
)

// ParsePreset converts a --filter flag value.
func ParsePreset(s string) (Preset, error) {
	switch Preset(s) {
	case PresetNone, PresetBW, PresetSepia, PresetVintage:
		return Preset(s), nil
	case "":
		return PresetNone, nil
	}
	return PresetNone, fmt.Errorf("%w: unknown filter %q", ErrInvalidParameter, s)
}

// Spec is an ordered filter request. Field order here is the application
// order; callers cannot reorder the pipeline.
type Spec struct {
	Preset     Preset
	Brightness float64
	Contrast   float64
	Saturation float64
}

// DefaultSpec returns a no-op spec.
func DefaultSpec() Spec {
	return Spec{Preset: PresetNone, Brightness: 1, Contrast: 1, Saturation: 1}
}

// IsNoop reports whether applying the spec would change nothing.
func (s Spec) IsNoop() bool {
	return s.Preset == PresetNone && s.Brightness == 1 && s.Contrast == 1 && s.Saturation == 1
}

// Validate checks all factor ranges.
func (s Spec) Validate() error {
	if s.Brightness < MinFactor || s.Brightness > MaxFactor {
		return fmt.Errorf("%w: brightness %.2f outside [%.1f,%.1f]", ErrInvalidParameter, s.Brightness, MinFactor, MaxFactor)
	}
	if s.Contrast < MinFactor || s.Contrast > MaxFactor {
		return fmt.Errorf("%w: contrast %.2f outside [%.1f,%.1f]", ErrInvalidParameter, s.Contrast, MinFactor, MaxFactor)
	}
	if s.Saturation != 0 && (s.Saturation < MinFactor || s.Saturation > MaxFactor) {
		return fmt.Errorf("%w: saturation %.2f outside [%.1f,%.1f] (or 0)", ErrInvalidParameter, s.Saturation, MinFactor, MaxFactor)
	}
	return nil
}

// Apply runs the pipeline in its fixed order and returns a new image; the
// source is never mutated.
func Apply(src *image.RGBA, s Spec) (*image.RGBA, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.IsNoop() {
		return src, nil
	}

	img := clone(src)

	switch s.Preset {
	case PresetBW:
		grayscale(img)
	case PresetSepia:
		sepia(img)
	case PresetVintage:
		vintage(img)
	}

	if s.Brightness != 1 {
		brightness(img, s.Brightness)
	}
	if s.Contrast != 1 {
		contrast(img, s.Contrast)
	}
	if s.Saturation != 1 {
		saturation(img, s.Saturation)
	}
	return img, nil
}

func clone(src *image.RGBA) *image.RGBA {
	out := image.NewRGBA(src.Bounds())
	copy(out.Pix, src.Pix)
	return out
}

func clamp(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// luminance is the Rec.601 weighting used for both bw and saturation.
func luminance(r, g, b float64) float64 {
	return 0.299*r + 0.587*g + 0.114*b
}

// grayscale is a luminance-preserving desaturation kept as three channels.
func grayscale(img *image.RGBA) {
	pix := img.Pix
	for i := 0; i < len(pix); i += 4 {
		l := clamp(luminance(float64(pix[i]), float64(pix[i+1]), float64(pix[i+2])))
		pix[i], pix[i+1], pix[i+2] = l, l, l
	}
}

// sepia applies the classic 3x3 color matrix, preserving tonal range:
//
//	R' = 0.393R + 0.769G + 0.189B
//	G' = 0.349R + 0.686G + 0.168B
//	B' = 0.272R + 0.534G + 0.131B
func sepia(img *image.RGBA) {
	pix := img.Pix
	for i := 0; i < len(pix); i += 4 {
		r, g, b := float64(pix[i]), float64(pix[i+1]), float64(pix[i+2])
		pix[i] = clamp(0.393*r + 0.769*g + 0.189*b)
		pix[i+1] = clamp(0.349*r + 0.686*g + 0.168*b)
		pix[i+2] = clamp(0.272*r + 0.534*g + 0.131*b)
	}
}

// vintage is sepia followed by a saturation pullback and a small uniform
// brightness lift.
func vintage(img *image.RGBA) {
	sepia(img)
	saturation(img, 0.8)
	brightness(img, 1.05)
}

func brightness(img *image.RGBA, factor float64) {
	pix := img.Pix
	for i := 0; i < len(pix); i += 4 {
		pix[i] = clamp(float64(pix[i]) * factor)
		pix[i+1] = clamp(float64(pix[i+1]) * factor)
		pix[i+2] = clamp(float64(pix[i+2]) * factor)
	}
}

func contrast(img *image.RGBA, factor float64) {
	pix := img.Pix
	for i := 0; i < len(pix); i += 4 {
		pix[i] = clamp((float64(pix[i])-128)*factor + 128)
		pix[i+1] = clamp((float64(pix[i+1])-128)*factor + 128)
		pix[i+2] = clamp((float64(pix[i+2])-128)*factor + 128)
	}
}

func saturation(img *image.RGBA, factor float64) {
	pix := img.Pix
	for i := 0; i < len(pix); i += 4 {
		r, g, b := float64(pix[i]), float64(pix[i+1]), float64(pix[i+2])
		l := luminance(r, g, b)
		pix[i] = clamp(l + (r-l)*factor)
		pix[i+1] = clamp(l + (g-l)*factor)
		pix[i+2] = clamp(l + (b-l)*factor)
	}
}
