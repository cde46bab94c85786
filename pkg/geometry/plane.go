// Package geometry defines viewing planes for multi-planar reconstruction:
// the canonical axial, coronal and sagittal orientations fixed along the
// patient axes, and arbitrary oblique planes.
package geometry

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"mprengine/pkg/volume"
)

// Orientation tags a viewing plane.
type Orientation int

const (
	// Axial planes are perpendicular to the patient z axis.
	Axial Orientation = iota
	// Coronal planes are perpendicular to the patient y axis.
	Coronal
	// Sagittal planes are perpendicular to the patient x axis.
	Sagittal
	// ObliqueOrientation marks a plane built from an arbitrary normal.
	ObliqueOrientation
)

func (o Orientation) String() string {
	switch o {
	case Axial:
		return "axial"
	case Coronal:
		return "coronal"
	case Sagittal:
		return "sagittal"
	case ObliqueOrientation:
		return "oblique"
	}
	return fmt.Sprintf("orientation(%d)", int(o))
}

// ParseOrientation maps a config/CLI string to an Orientation.
func ParseOrientation(s string) (Orientation, error) {
	switch s {
	case "axial":
		return Axial, nil
	case "coronal":
		return Coronal, nil
	case "sagittal":
		return Sagittal, nil
	case "oblique":
		return ObliqueOrientation, nil
	}
	return Axial, fmt.Errorf("unknown orientation %q", s)
}

// Plane describes one viewing plane in patient space: a unit normal and two
// orthonormal in-plane basis vectors. Immutable once constructed; a
// re-oriented view builds a new Plane rather than mutating in place.
type Plane struct {
	orientation Orientation
	normal      mgl64.Vec3
	axisU       mgl64.Vec3
	axisV       mgl64.Vec3
}

// Orientation returns the plane's orientation tag.
func (p Plane) Orientation() Orientation { return p.orientation }

// Normal returns the unit normal in patient space.
func (p Plane) Normal() mgl64.Vec3 { return p.normal }

// AxisU returns the in-plane horizontal unit basis vector.
func (p Plane) AxisU() mgl64.Vec3 { return p.axisU }

// AxisV returns the in-plane vertical unit basis vector.
func (p Plane) AxisV() mgl64.Vec3 { return p.axisV }

// Canonical returns one of the three fixed anatomical planes. The normals
// are patient axes, not array axes: "axial" is perpendicular to patient z
// no matter how the acquisition maps array indices into patient space, so
// a coronally acquired stack still gets true axial, coronal and sagittal
// views. Resampling against the voxel grid is entirely the coordinate
// space's concern.
func Canonical(o Orientation) Plane {
	switch o {
	case Coronal:
		return Plane{orientation: Coronal, normal: mgl64.Vec3{0, 1, 0}, axisU: mgl64.Vec3{1, 0, 0}, axisV: mgl64.Vec3{0, 0, 1}}
	case Sagittal:
		return Plane{orientation: Sagittal, normal: mgl64.Vec3{1, 0, 0}, axisU: mgl64.Vec3{0, 1, 0}, axisV: mgl64.Vec3{0, 0, 1}}
	default:
		return Plane{orientation: Axial, normal: mgl64.Vec3{0, 0, 1}, axisU: mgl64.Vec3{1, 0, 0}, axisV: mgl64.Vec3{0, 1, 0}}
	}
}

// degenerateLen is the squared length below which a vector is considered
// zero when building oblique bases.
const degenerateLen = 1e-12

// Oblique builds a plane from an arbitrary normal, deriving an orthonormal
// in-plane basis by Gram-Schmidt of upHint against the normal. A degenerate
// (zero-length) normal yields ErrInvalidGeometry. An upHint parallel to the
// normal is tolerated: an arbitrary perpendicular is substituted.
func Oblique(normal, upHint mgl64.Vec3) (Plane, error) {
	if normal.LenSqr() < degenerateLen {
		return Plane{}, fmt.Errorf("%w: oblique normal is degenerate", volume.ErrInvalidGeometry)
	}
	n := normal.Normalize()

	v := upHint.Sub(n.Mul(upHint.Dot(n)))
	if v.LenSqr() < degenerateLen {
		v = anyPerpendicular(n)
	}
	v = v.Normalize()

	// u = v × n keeps the basis right handed: u × v = n.
	u := v.Cross(n)

	return Plane{orientation: ObliqueOrientation, normal: n, axisU: u, axisV: v}, nil
}

// anyPerpendicular returns a vector perpendicular to the unit vector n,
// crossing against the axis n is least aligned with.
func anyPerpendicular(n mgl64.Vec3) mgl64.Vec3 {
	axis := mgl64.Vec3{1, 0, 0}
	least := math.Abs(n[0])
	if math.Abs(n[1]) < least {
		axis = mgl64.Vec3{0, 1, 0}
		least = math.Abs(n[1])
	}
	if math.Abs(n[2]) < least {
		axis = mgl64.Vec3{0, 0, 1}
	}
	return n.Cross(axis)
}
