package detect

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// solidImage makes a single-color test avatar
func solidImage(c color.RGBA, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// bandImage makes an avatar with equal vertical color bands
func bandImage(w, h int, bands ...color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, bands[x*len(bands)/w])
		}
	}
	return img
}

func TestCompareImages(t *testing.T) {
	red := color.RGBA{R: 220, G: 30, B: 30, A: 255}
	nearRed := color.RGBA{R: 200, G: 50, B: 40, A: 255}
	blue := color.RGBA{R: 20, G: 40, B: 220, A: 255}
	green := color.RGBA{R: 30, G: 200, B: 60, A: 255}

	t.Run("identical images", func(t *testing.T) {
		img := bandImage(66, 66, red, green, blue)
		res := CompareImages(img, img)
		assert.InDelta(t, 1.0, res.Score, 0.0001)
		assert.Contains(t, res.Reasons, "very similar overall appearance")
		assert.Contains(t, res.Reasons, "similar after minor modifications")
		assert.Contains(t, res.Reasons, "similar edge patterns")
		assert.Contains(t, res.Reasons, "similar color scheme")
	})

	t.Run("same image different size", func(t *testing.T) {
		res := CompareImages(bandImage(66, 66, red, green, blue), bandImage(258, 258, red, green, blue))
		assert.Greater(t, res.Score, 0.9, "resize should not defeat the comparison")
		assert.NotEmpty(t, res.Reasons)
	})

	t.Run("slightly recolored", func(t *testing.T) {
		res := CompareImages(bandImage(66, 66, red, green, blue), bandImage(66, 66, nearRed, green, blue))
		assert.Greater(t, res.Score, 0.8)
		assert.Contains(t, res.Reasons, "similar color scheme")
	})

	t.Run("different color same structure", func(t *testing.T) {
		res := CompareImages(bandImage(64, 64, red, blue), bandImage(64, 64, green, blue))
		// edge structure matches even though colors partially differ
		assert.Contains(t, res.Reasons, "similar edge patterns")
	})

	t.Run("missing images", func(t *testing.T) {
		img := solidImage(red, 32, 32)
		assert.Zero(t, CompareImages(nil, nil).Score)
		assert.Zero(t, CompareImages(img, nil).Score)
		assert.Zero(t, CompareImages(nil, img).Score)
		assert.Empty(t, CompareImages(img, nil).Reasons)
	})
}

func TestColorSimilarity(t *testing.T) {
	red := color.RGBA{R: 220, G: 30, B: 30, A: 255}
	nearRed := color.RGBA{R: 200, G: 50, B: 40, A: 255} // within 30 per channel
	blue := color.RGBA{R: 20, G: 40, B: 220, A: 255}

	t.Run("same dominant colors", func(t *testing.T) {
		sim := colorSimilarity(normalizeImage(solidImage(red, 32, 32)), normalizeImage(solidImage(red, 32, 32)))
		assert.Greater(t, sim, 0.0)
	})

	t.Run("within tolerance", func(t *testing.T) {
		sim := colorSimilarity(normalizeImage(solidImage(red, 32, 32)), normalizeImage(solidImage(nearRed, 32, 32)))
		assert.Greater(t, sim, 0.0)
	})

	t.Run("out of tolerance", func(t *testing.T) {
		sim := colorSimilarity(normalizeImage(solidImage(red, 32, 32)), normalizeImage(solidImage(blue, 32, 32)))
		assert.Zero(t, sim)
	})
}

func TestDecodeImage(t *testing.T) {
	t.Run("valid png", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, solidImage(color.RGBA{R: 1, G: 2, B: 3, A: 255}, 8, 8)))
		img, err := DecodeImage(buf.Bytes())
		require.NoError(t, err)
		assert.Equal(t, 8, img.Bounds().Dx())
	})

	t.Run("garbage data", func(t *testing.T) {
		_, err := DecodeImage([]byte("not an image at all"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrImageDecode)
	})

	t.Run("empty data", func(t *testing.T) {
		_, err := DecodeImage(nil)
		assert.ErrorIs(t, err, ErrImageDecode)
	})
}
