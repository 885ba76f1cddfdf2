package descriptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streetview-dl/internal/grid"
)

// A real-world URL with the embedded thumbnail query carrying panoid, yaw
// and pitch.
const thumbnailURL = "https://www.google.com/maps/@33.9922558,-118.4029686,3a,75y,148.67h,98.01t/" +
	"data=!3m7!1e1!3m5!1sGJ99KitLZxEpsY4Yx9PV2g!2e0!6shttps:%2F%2Fstreetviewpixels-pa.googleapis.com" +
	"%2Fv1%2Fthumbnail%3Fcb_client%3Dmaps_sv.tactile%26w%3D900%26h%3D600" +
	"%26pitch%3D-8.009855159718882%26panoid%3DGJ99KitLZxEpsY4Yx9PV2g" +
	"%26yaw%3D148.67420935522165!7i16384!8i8192?entry=ttu"

func TestFromURLThumbnailShape(t *testing.T) {
	d, err := FromURL(thumbnailURL, grid.TierMedium)
	require.NoError(t, err)

	assert.Equal(t, "GJ99KitLZxEpsY4Yx9PV2g", d.PanoramaID)
	assert.True(t, d.HasCamera)
	assert.InDelta(t, 148.674, d.HeadingDeg, 0.001)
	assert.InDelta(t, -8.0099, d.PitchDeg, 0.001)
	assert.Equal(t, grid.TierMedium, d.Tier)
}

func TestFromURLCameraSegments(t *testing.T) {
	// No thumbnail; pose comes from the path segments, ID from the data
	// token. Tilt 98.01 means pitch 8.01.
	raw := "https://www.google.com/maps/@33.99,-118.40,3a,75y,148.67h,98.01t/data=!3m5!1sABCDEF123!2e0"
	d, err := FromURL(raw, grid.TierHigh)
	require.NoError(t, err)

	assert.Equal(t, "ABCDEF123", d.PanoramaID)
	assert.True(t, d.HasCamera)
	assert.InDelta(t, 148.67, d.HeadingDeg, 0.001)
	assert.InDelta(t, 8.01, d.PitchDeg, 0.001)
}

func TestFromURLPanoidParameter(t *testing.T) {
	raw := "https://maps.google.com/maps?layer=c&panoid=XYZ789&map_action=pano"
	d, err := FromURL(raw, grid.TierLow)
	require.NoError(t, err)

	assert.Equal(t, "XYZ789", d.PanoramaID)
	assert.False(t, d.HasCamera)
}

func TestFromURLNoPanorama(t *testing.T) {
	_, err := FromURL("https://www.google.com/maps/@33.99,-118.40,15z", grid.TierLow)
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestNormalization(t *testing.T) {
	d := FromParams("p", 396.1, 97.5, grid.TierLow)
	assert.InDelta(t, 36.1, d.HeadingDeg, 1e-9)
	assert.Equal(t, 90.0, d.PitchDeg)

	d = FromParams("p", -45, -120, grid.TierLow)
	assert.InDelta(t, 315, d.HeadingDeg, 1e-9)
	assert.Equal(t, -90.0, d.PitchDeg)
}

func TestLooksLikeMapsURL(t *testing.T) {
	assert.True(t, LooksLikeMapsURL(thumbnailURL))
	assert.True(t, LooksLikeMapsURL("https://maps.google.com/maps?panoid=X&map_action=pano"))
	assert.False(t, LooksLikeMapsURL("https://example.com/image.jpg"))
	assert.False(t, LooksLikeMapsURL(""))
}
