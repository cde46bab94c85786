package visualization

import (
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mprengine/pkg/geometry"
	"mprengine/pkg/projection"
)

// testResult builds a small gradient result by hand.
func testResult(width, height int) *projection.Result {
	pixels := make([]int16, width*height)
	for i := range pixels {
		pixels[i] = int16(i * 10)
	}
	plane := geometry.Canonical(geometry.Axial)
	return &projection.Result{
		Pixels:       pixels,
		Width:        width,
		Height:       height,
		PixelSpacing: 1,
		Request: projection.Request{
			Plane:  plane,
			Center: mgl64.Vec3{},
			Mode:   projection.MIP,
			Width:  width,
			Height: height,
		},
	}
}

// TestRenderDimensions verifies the rendered image matches the result
// raster.
func TestRenderDimensions(t *testing.T) {
	v := NewViewer(90, 0.01, 0.99)
	img := v.Render(testResult(16, 9))
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 9, img.Bounds().Dy())
}

// TestRenderWindowing verifies darker inputs map to darker outputs and the
// extremes use most of the 16-bit range.
func TestRenderWindowing(t *testing.T) {
	v := NewViewer(90, 0.01, 0.99)
	res := testResult(8, 8)
	img := v.Render(res)

	darkest := img.Gray16At(0, 0).Y
	brightest := img.Gray16At(7, 7).Y
	assert.Less(t, darkest, brightest)
	assert.Equal(t, uint16(0), darkest)
	assert.Equal(t, uint16(65535), brightest)

	// Monotone along the gradient.
	prev := img.Gray16At(0, 0).Y
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			cur := img.Gray16At(x, y).Y
			assert.GreaterOrEqual(t, cur, prev)
			prev = cur
		}
	}
}

// TestRenderFlatResult verifies a constant buffer renders without dividing
// by a zero window.
func TestRenderFlatResult(t *testing.T) {
	v := NewViewer(90, 0.01, 0.99)
	res := testResult(4, 4)
	for i := range res.Pixels {
		res.Pixels[i] = 123
	}
	img := v.Render(res)
	assert.Equal(t, uint16(0), img.Gray16At(0, 0).Y)
}

// TestSaveResult writes a decodable JPEG named after the view and mode.
func TestSaveResult(t *testing.T) {
	dir := t.TempDir()
	v := NewViewer(90, 0.01, 0.99)

	require.NoError(t, v.SaveResult(testResult(16, 16), dir, "axial", 7))

	path := filepath.Join(dir, "axial_mip_007.jpg")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
}
