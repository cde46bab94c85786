package navigation

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"mprengine/pkg/geometry"
	"mprengine/pkg/volume"
)

// Navigator converts between crosshair positions and integer slice indices
// for a plane over one coordinate space. Stateless apart from the space; a
// new Navigator is built when a volume is attached.
type Navigator struct {
	space *volume.CoordinateSpace
}

// NewNavigator creates a navigator over the given space.
func NewNavigator(space *volume.CoordinateSpace) *Navigator {
	return &Navigator{space: space}
}

// RoundHalfUp rounds to the nearest integer with ties toward positive
// infinity. The slice-index tie-break: a crosshair exactly between two
// slices lands on the higher index.
func RoundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}

// normalRange returns the minimum and maximum projections of the volume's
// bounding box corners onto the plane normal. Slice 0 sits at the minimum.
func (n *Navigator) normalRange(plane geometry.Plane) (lo, hi float64) {
	bmin, bmax := n.space.BoundingBox()
	normal := plane.Normal()
	lo = math.Inf(1)
	hi = math.Inf(-1)
	for i := 0; i < 8; i++ {
		c := mgl64.Vec3{bmin[0], bmin[1], bmin[2]}
		if i&1 != 0 {
			c[0] = bmax[0]
		}
		if i&2 != 0 {
			c[1] = bmax[1]
		}
		if i&4 != 0 {
			c[2] = bmax[2]
		}
		t := normal.Dot(c)
		lo = math.Min(lo, t)
		hi = math.Max(hi, t)
	}
	return lo, hi
}

// SliceIndex projects the crosshair point onto the plane's normal axis,
// converts to voxel-spacing units from the low edge of the volume, and
// rounds with RoundHalfUp.
func (n *Navigator) SliceIndex(plane geometry.Plane, point mgl64.Vec3) int {
	lo, _ := n.normalRange(plane)
	step := n.space.SpacingAlong(plane.Normal())
	if step == 0 {
		return 0
	}
	return RoundHalfUp((plane.Normal().Dot(point) - lo) / step)
}

// SliceCount returns the number of addressable slices along the plane's
// normal: the bounding-box extent in voxel-spacing units, inclusive of
// both edge slices.
func (n *Navigator) SliceCount(plane geometry.Plane) int {
	lo, hi := n.normalRange(plane)
	step := n.space.SpacingAlong(plane.Normal())
	if step == 0 {
		return 1
	}
	return RoundHalfUp((hi-lo)/step) + 1
}

// PointForSliceIndex maps a slice index back to a crosshair position. Only
// the normal-axis component of current is replaced; the in-plane components
// are preserved so that scrubbing one plane does not perturb the other two.
// An index outside [0, SliceCount-1] is clamped, not an error; the returned
// bool reports whether clamping occurred so the UI can suppress further
// scroll in that direction.
func (n *Navigator) PointForSliceIndex(plane geometry.Plane, index int, current mgl64.Vec3) (mgl64.Vec3, bool) {
	clamped := false
	if index < 0 {
		index = 0
		clamped = true
	}
	if count := n.SliceCount(plane); index > count-1 {
		index = count - 1
		clamped = true
	}

	lo, _ := n.normalRange(plane)
	step := n.space.SpacingAlong(plane.Normal())
	target := lo + float64(index)*step

	normal := plane.Normal()
	point := current.Add(normal.Mul(target - normal.Dot(current)))
	return point, clamped
}
