// Package visualization renders extracted slice results to grayscale
// images for the demo binary and debugging. Clinical window/level mapping
// and final compositing live in the external renderer; this is a plain
// percentile-windowed preview.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/stat"

	"mprengine/pkg/projection"
)

// Viewer renders projection results to Gray16 images and writes them as
// JPEG files.
type Viewer struct {
	// quality is the JPEG encoding quality.
	quality int

	// lowQ and highQ are the intensity percentiles mapped to black and
	// white. Percentile windowing keeps the preview usable regardless of
	// the dataset's intensity range.
	lowQ  float64
	highQ float64
}

// NewViewer creates a viewer with the given JPEG quality and window
// percentiles (0 < lowQ < highQ < 1).
func NewViewer(quality int, lowQ, highQ float64) *Viewer {
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	if lowQ < 0 || highQ > 1 || lowQ >= highQ {
		lowQ, highQ = 0.01, 0.99
	}
	return &Viewer{quality: quality, lowQ: lowQ, highQ: highQ}
}

// Render maps a slice result to a Gray16 image, windowing intensities
// between the configured percentiles.
func (v *Viewer) Render(res *projection.Result) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, res.Width, res.Height))
	if len(res.Pixels) == 0 {
		return img
	}

	sorted := make([]float64, len(res.Pixels))
	for i, p := range res.Pixels {
		sorted[i] = float64(p)
	}
	sort.Float64s(sorted)
	lo := stat.Quantile(v.lowQ, stat.Empirical, sorted, nil)
	hi := stat.Quantile(v.highQ, stat.Empirical, sorted, nil)
	if hi <= lo {
		hi = lo + 1
	}
	scale := 65535.0 / (hi - lo)

	for y := 0; y < res.Height; y++ {
		for x := 0; x < res.Width; x++ {
			val := (float64(res.Pixels[y*res.Width+x]) - lo) * scale
			if val < 0 {
				val = 0
			} else if val > 65535 {
				val = 65535
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(val)})
		}
	}

	return img
}

// SaveSlice saves an image as a JPEG file.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: v.quality})
}

// SaveResult renders a slice result and saves it under outputDir using the
// view name and the request's slab mode in the filename.
func (v *Viewer) SaveResult(res *projection.Result, outputDir, name string, index int) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s_%03d.jpg", name, res.Request.Mode, index))
	return v.SaveSlice(v.Render(res), filename)
}
