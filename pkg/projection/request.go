// Package projection resamples 2D cross-sections and slab projections
// (MIP, MinIP, average) from a voxel dataset along an arbitrary viewing
// plane.
package projection

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"mprengine/pkg/geometry"
	"mprengine/pkg/volume"
)

// Mode selects how a slab's samples are combined pixel-wise.
type Mode int

const (
	// Single resamples one slice at the crosshair, ignoring thickness.
	Single Mode = iota
	// MIP keeps the maximum intensity across the slab.
	MIP
	// MinIP keeps the minimum intensity across the slab.
	MinIP
	// Average takes the arithmetic mean across the slab.
	Average
)

func (m Mode) String() string {
	switch m {
	case Single:
		return "single"
	case MIP:
		return "mip"
	case MinIP:
		return "minip"
	case Average:
		return "average"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode maps a config/CLI string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "single":
		return Single, nil
	case "mip":
		return MIP, nil
	case "minip":
		return MinIP, nil
	case "average":
		return Average, nil
	}
	return Single, fmt.Errorf("unknown projection mode %q", s)
}

// Kernel selects the resampling kernel. Trilinear is the default; nearest
// is kept as a selectable policy point.
type Kernel int

const (
	Trilinear Kernel = iota
	Nearest
)

func (k Kernel) String() string {
	if k == Nearest {
		return "nearest"
	}
	return "trilinear"
}

// ParseKernel maps a config string to a Kernel.
func ParseKernel(s string) (Kernel, error) {
	switch s {
	case "", "trilinear":
		return Trilinear, nil
	case "nearest":
		return Nearest, nil
	}
	return Trilinear, fmt.Errorf("unknown interpolation kernel %q", s)
}

// Request is an immutable snapshot of everything one slice extraction
// needs: the plane, the crosshair position at enqueue time, the slab
// parameters and the output raster geometry. Workers only ever see the
// snapshot, never live engine state. Generation orders requests per view
// for staleness detection.
type Request struct {
	Plane       geometry.Plane
	Center      mgl64.Vec3
	ThicknessMM float64
	Mode        Mode

	Width        int
	Height       int
	PixelSpacing float64

	Generation uint64
}

// Result is one extracted cross-section: a width×height buffer of int16
// intensities, the in-plane pixel spacing, and the originating request for
// traceability. Never mutated after creation.
type Result struct {
	Pixels       []int16
	Width        int
	Height       int
	PixelSpacing float64
	Request      Request
}

// DefaultRaster derives an output raster covering the volume's footprint on
// the plane basis at a pixel spacing equal to the smallest voxel spacing.
func DefaultRaster(space *volume.CoordinateSpace, plane geometry.Plane) (width, height int, pixelSpacing float64) {
	sp := space.Spacing()
	pixelSpacing = math.Min(sp[0], math.Min(sp[1], sp[2]))

	bmin, bmax := space.BoundingBox()
	minU, maxU := math.Inf(1), math.Inf(-1)
	minV, maxV := math.Inf(1), math.Inf(-1)
	for i := 0; i < 8; i++ {
		c := bmin
		if i&1 != 0 {
			c[0] = bmax[0]
		}
		if i&2 != 0 {
			c[1] = bmax[1]
		}
		if i&4 != 0 {
			c[2] = bmax[2]
		}
		u := plane.AxisU().Dot(c)
		v := plane.AxisV().Dot(c)
		minU = math.Min(minU, u)
		maxU = math.Max(maxU, u)
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}

	width = int(math.Floor((maxU-minU)/pixelSpacing)) + 1
	height = int(math.Floor((maxV-minV)/pixelSpacing)) + 1
	return width, height, pixelSpacing
}
