package export

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/HugoSmits86/nativewebp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func TestParseFormat(t *testing.T) {
	for name, want := range map[string]Format{
		"jpg": FormatJPEG, "jpeg": FormatJPEG, "JPG": FormatJPEG,
		"png": FormatPNG, "webp": FormatWebP,
	} {
		got, err := ParseFormat(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseFormat("tiff")
	assert.Error(t, err)
}

func TestResizePreservesAspectRatio(t *testing.T) {
	src := testImage(200, 100)

	out := Resize(src, 50)
	assert.Equal(t, 50, out.Bounds().Dx())
	assert.Equal(t, 25, out.Bounds().Dy())
}

func TestResizeNoopWhenWithinLimit(t *testing.T) {
	src := testImage(40, 20)

	assert.Same(t, image.Image(src), Resize(src, 40))
	assert.Same(t, image.Image(src), Resize(src, 100))
	assert.Same(t, image.Image(src), Resize(src, 0))
}

func TestEncodeRoundTrips(t *testing.T) {
	src := testImage(32, 16)

	for _, format := range []Format{FormatJPEG, FormatPNG} {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, src, format, 0), format.String())

		decoded, _, err := image.Decode(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err, format.String())
		assert.Equal(t, src.Bounds(), decoded.Bounds(), format.String())
	}
}

func TestEncodeWebP(t *testing.T) {
	src := testImage(32, 16)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, src, FormatWebP, 0))

	decoded, err := nativewebp.Decode(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, src.Bounds(), decoded.Bounds())
}

func TestJPEGQualityAffectsSize(t *testing.T) {
	src := testImage(128, 64)

	var low, high bytes.Buffer
	require.NoError(t, Encode(&low, src, FormatJPEG, 10))
	require.NoError(t, Encode(&high, src, FormatJPEG, 95))

	assert.Less(t, low.Len(), high.Len())
}
