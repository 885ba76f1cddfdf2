package descriptor

import (
	"math"

	"streetview-dl/internal/grid"
)

// ViewDescriptor is the canonical, immutable description of a panorama view.
// HeadingDeg is normalized to [0,360) and PitchDeg clamped to [-90,90].
type ViewDescriptor struct {
	PanoramaID string
	HeadingDeg float64
	PitchDeg   float64
	Tier       grid.Tier

	// HasCamera reports whether the source URL carried a viewing pose.
	// Angular cropping needs a heading; URLs that only name a panorama
	// cannot support it.
	HasCamera bool
}

// FromParams builds a descriptor from explicit fields, applying the same
// normalization as URL resolution.
func FromParams(panoID string, headingDeg, pitchDeg float64, tier grid.Tier) ViewDescriptor {
	return ViewDescriptor{
		PanoramaID: panoID,
		HeadingDeg: normalizeHeading(headingDeg),
		PitchDeg:   clampPitch(pitchDeg),
		Tier:       tier,
		HasCamera:  true,
	}
}

// normalizeHeading wraps a heading into [0,360).
func normalizeHeading(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// clampPitch bounds pitch to [-90,90]. Capture devices report epsilon
// overshoot, so out-of-range values are clamped rather than rejected.
func clampPitch(deg float64) float64 {
	if deg < -90 {
		return -90
	}
	if deg > 90 {
		return 90
	}
	return deg
}
