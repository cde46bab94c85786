package volume

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// CoordinateSpace is the immutable bidirectional mapping between continuous
// voxel indices and patient-space millimeters for one dataset:
//
//	patient = origin + R · (index ∘ spacing)
//
// Both directions are pure and O(1). Inputs are unconstrained reals;
// out-of-volume results are valid coordinates and clamping is the caller's
// responsibility. A new space is built atomically whenever a dataset is
// attached, so consumers never observe mixed old/new geometry.
type CoordinateSpace struct {
	origin      mgl64.Vec3
	spacing     mgl64.Vec3
	orientation mgl64.Mat3
	// inverse of the orientation. Orthonormal, so just the transpose.
	inverse mgl64.Mat3

	dims [3]int

	bboxMin mgl64.Vec3
	bboxMax mgl64.Vec3
}

func newCoordinateSpace(origin, spacing mgl64.Vec3, orientation mgl64.Mat3, dims [3]int) *CoordinateSpace {
	s := &CoordinateSpace{
		origin:      origin,
		spacing:     spacing,
		orientation: orientation,
		inverse:     orientation.Transpose(),
		dims:        dims,
	}

	// Continuous patient-space extent: the images of the corners of the
	// index box [0, n-1]^3. With a non-identity orientation the box is not
	// axis aligned in patient space, so take the envelope of all corners.
	first := true
	for _, c := range s.indexCorners() {
		p := s.ToPatient(c)
		if first {
			s.bboxMin, s.bboxMax = p, p
			first = false
			continue
		}
		for axis := 0; axis < 3; axis++ {
			s.bboxMin[axis] = math.Min(s.bboxMin[axis], p[axis])
			s.bboxMax[axis] = math.Max(s.bboxMax[axis], p[axis])
		}
	}
	return s
}

// NewCoordinateSpace builds a coordinate space from geometry alone, without
// a sample buffer. Useful when only the index/patient mapping is needed.
// Validates like NewDataset: positive dims and spacing, orthonormal
// orientation.
func NewCoordinateSpace(origin, spacing mgl64.Vec3, orientation mgl64.Mat3, nx, ny, nz int) (*CoordinateSpace, error) {
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return nil, fmt.Errorf("%w: dimensions (%d,%d,%d) must be positive", ErrInvalidGeometry, nx, ny, nz)
	}
	for axis := 0; axis < 3; axis++ {
		if s := spacing[axis]; s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("%w: spacing %v must be positive", ErrInvalidGeometry, spacing)
		}
	}
	if err := checkOrthonormal(orientation); err != nil {
		return nil, err
	}
	return newCoordinateSpace(origin, spacing, orientation, [3]int{nx, ny, nz}), nil
}

// DefaultSpace returns the unit-cube space the engine navigates against
// before any volume is attached.
func DefaultSpace() *CoordinateSpace {
	return newCoordinateSpace(mgl64.Vec3{}, mgl64.Vec3{1, 1, 1}, mgl64.Ident3(), [3]int{2, 2, 2})
}

// indexCorners returns the 8 corners of the continuous index domain.
func (s *CoordinateSpace) indexCorners() [8]mgl64.Vec3 {
	mx := float64(s.dims[0] - 1)
	my := float64(s.dims[1] - 1)
	mz := float64(s.dims[2] - 1)
	return [8]mgl64.Vec3{
		{0, 0, 0}, {mx, 0, 0}, {0, my, 0}, {mx, my, 0},
		{0, 0, mz}, {mx, 0, mz}, {0, my, mz}, {mx, my, mz},
	}
}

// ToPatient maps a continuous voxel index to patient-space millimeters.
func (s *CoordinateSpace) ToPatient(index mgl64.Vec3) mgl64.Vec3 {
	scaled := mgl64.Vec3{
		index[0] * s.spacing[0],
		index[1] * s.spacing[1],
		index[2] * s.spacing[2],
	}
	return s.origin.Add(s.orientation.Mul3x1(scaled))
}

// ToIndex maps a patient-space point to a continuous voxel index. The exact
// inverse of ToPatient up to floating rounding.
func (s *CoordinateSpace) ToIndex(p mgl64.Vec3) mgl64.Vec3 {
	local := s.inverse.Mul3x1(p.Sub(s.origin))
	return mgl64.Vec3{
		local[0] / s.spacing[0],
		local[1] / s.spacing[1],
		local[2] / s.spacing[2],
	}
}

// Dims returns the voxel grid dimensions this space was built from.
func (s *CoordinateSpace) Dims() (int, int, int) {
	return s.dims[0], s.dims[1], s.dims[2]
}

// Orientation returns the direction cosine matrix. Column k is the patient
// direction of volume axis k.
func (s *CoordinateSpace) Orientation() mgl64.Mat3 { return s.orientation }

// Spacing returns the voxel spacing in millimeters along each volume axis.
func (s *CoordinateSpace) Spacing() mgl64.Vec3 { return s.spacing }

// BoundingBox returns the continuous patient-space extent of the volume.
func (s *CoordinateSpace) BoundingBox() (min, max mgl64.Vec3) {
	return s.bboxMin, s.bboxMax
}

// Center returns the geometric center of the volume in patient space, the
// initial crosshair position after a dataset is attached.
func (s *CoordinateSpace) Center() mgl64.Vec3 {
	return s.ToPatient(mgl64.Vec3{
		float64(s.dims[0]-1) / 2,
		float64(s.dims[1]-1) / 2,
		float64(s.dims[2]-1) / 2,
	})
}

// Clamp projects p onto the volume's continuous bounding box and reports
// whether any coordinate had to move. Clamping is a projection: applying it
// twice yields the same point.
func (s *CoordinateSpace) Clamp(p mgl64.Vec3) (mgl64.Vec3, bool) {
	clamped := false
	for axis := 0; axis < 3; axis++ {
		if p[axis] < s.bboxMin[axis] {
			p[axis] = s.bboxMin[axis]
			clamped = true
		} else if p[axis] > s.bboxMax[axis] {
			p[axis] = s.bboxMax[axis]
			clamped = true
		}
	}
	return p, clamped
}

// SpacingAlong returns the distance in millimeters between adjacent index
// lattice planes along the unit direction n: 1 / ‖diag(1/s)·Rᵀ·n‖. For a
// direction aligned with volume axis k this is exactly spacing[k].
func (s *CoordinateSpace) SpacingAlong(n mgl64.Vec3) float64 {
	local := s.inverse.Mul3x1(n)
	scaled := mgl64.Vec3{
		local[0] / s.spacing[0],
		local[1] / s.spacing[1],
		local[2] / s.spacing[2],
	}
	norm := scaled.Len()
	if norm == 0 {
		return 0
	}
	return 1 / norm
}
