package analyzer

import (
	"errors"
	"image"

	"golang.org/x/image/draw"
)

// ErrRasterizationUnavailable is returned by the default Rasterizer: PDF
// page-to-image rendering is explicitly out of scope for this core;
// callers treat the error as "page is image_only" rather than
// aborting analysis.
var ErrRasterizationUnavailable = errors.New("page rasterization unavailable")

// Rasterizer renders one page of a document to an image for dark-band
// detection. It is a pluggable leaf so a real PDF renderer can be wired
// in without touching the analyzer's decision logic.
type Rasterizer interface {
	RasterizePage(pdfBytes []byte, pageIndex int) (image.Image, error)
}

// NullRasterizer always reports rasterization as unavailable. It is the
// default wired in cmd/worker until a real rendering backend is added.
type NullRasterizer struct{}

func (NullRasterizer) RasterizePage(pdfBytes []byte, pageIndex int) (image.Image, error) {
	return nil, ErrRasterizationUnavailable
}

const darkLuminanceThreshold = 0.35 // mean luminance below this counts as "dark"

// DarkBandRows returns the row-index ranges whose mean luminance is
// below darkLuminanceThreshold and whose height is at least minRows tall.
func DarkBandRows(img image.Image, minRows int) []rowRange {
	bounds := img.Bounds()
	height := bounds.Dy()
	width := bounds.Dx()
	if height == 0 || width == 0 {
		return nil
	}

	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, img, bounds.Min, draw.Src)

	rowIsDark := make([]bool, height)
	for y := 0; y < height; y++ {
		var sum uint32
		for x := 0; x < width; x++ {
			c := gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y)
			sum += uint32(c.Y)
		}
		mean := float64(sum) / float64(width) / 255.0
		rowIsDark[y] = mean < darkLuminanceThreshold
	}

	var bands []rowRange
	start := -1
	for y := 0; y <= height; y++ {
		dark := y < height && rowIsDark[y]
		if dark && start == -1 {
			start = y
		} else if !dark && start != -1 {
			if y-start >= minRows {
				bands = append(bands, rowRange{Start: start, End: y})
			}
			start = -1
		}
	}
	return bands
}

// rowRange is a pixel-row interval on one rasterized page;
// callers convert to page-fraction terms themselves.
type rowRange struct {
	Start int
	End   int
}
