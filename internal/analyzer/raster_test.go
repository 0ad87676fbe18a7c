package analyzer

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNullRasterizerAlwaysFails(t *testing.T) {
	_, err := NullRasterizer{}.RasterizePage([]byte("pdf bytes"), 0)
	assert.ErrorIs(t, err, ErrRasterizationUnavailable)
}

func TestDarkBandRowsFindsDarkStripAtTop(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 20))
	for y := 0; y < 4; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, color.Black)
		}
	}
	for y := 4; y < 20; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, color.White)
		}
	}

	bands := DarkBandRows(img, 2)

	if assert.Len(t, bands, 1) {
		assert.Equal(t, 0, bands[0].Start)
		assert.Equal(t, 4, bands[0].End)
	}
}

func TestDarkBandRowsIgnoresBandsShorterThanMinRows(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, color.White)
		}
	}
	img.Set(0, 5, color.Black)

	bands := DarkBandRows(img, 2)

	assert.Empty(t, bands)
}
