// Package volume holds the voxel dataset borrowed by the MPR engine and the
// immutable coordinate space derived from it. A dataset is read-only after
// construction and may be sampled concurrently by any number of projection
// workers.
package volume

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/floats/scalar"
)

// ErrInvalidGeometry is returned when a dataset or plane is constructed from
// degenerate geometry: zero or negative spacing, a non-orthonormal direction
// cosine matrix, or a zero-length normal.
var ErrInvalidGeometry = errors.New("invalid geometry")

// OrthonormalTol is the tolerance used when checking that the direction
// cosine matrix of a dataset is orthonormal.
const OrthonormalTol = 1e-4

// Dataset is a 3D scalar voxel grid in patient space.
//
// Samples are stored in row-major order with x fastest, then y, then z, as
// produced by typical slice-stack loaders. Dimensions and spacing are
// validated on construction; a Dataset that exists is geometrically valid.
type Dataset struct {
	data []int16

	nx, ny, nz int

	spacing     mgl64.Vec3
	origin      mgl64.Vec3
	orientation mgl64.Mat3

	// outside is the value reported for samples taken past the volume
	// bounds. Interactive scrubbing routinely probes past the edge, so
	// this is data, not an error.
	outside int16

	space *CoordinateSpace
}

// NewDataset validates the geometry and wraps the given sample buffer.
// The buffer is borrowed, not copied; the caller must not mutate it while
// the dataset is in use.
//
// Returns ErrInvalidGeometry for non-positive dimensions or spacing, a
// sample buffer of the wrong length, or a direction cosine matrix whose
// columns are not unit length and mutually perpendicular within
// OrthonormalTol.
func NewDataset(data []int16, nx, ny, nz int, spacing, origin mgl64.Vec3, orientation mgl64.Mat3) (*Dataset, error) {
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return nil, fmt.Errorf("%w: dimensions (%d,%d,%d) must be positive", ErrInvalidGeometry, nx, ny, nz)
	}
	if len(data) != nx*ny*nz {
		return nil, fmt.Errorf("%w: sample buffer has %d values, want %d", ErrInvalidGeometry, len(data), nx*ny*nz)
	}
	for axis := 0; axis < 3; axis++ {
		if s := spacing[axis]; s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("%w: spacing %v must be positive", ErrInvalidGeometry, spacing)
		}
	}
	if err := checkOrthonormal(orientation); err != nil {
		return nil, err
	}

	ds := &Dataset{
		data:        data,
		nx:          nx,
		ny:          ny,
		nz:          nz,
		spacing:     spacing,
		origin:      origin,
		orientation: orientation,
		outside:     math.MinInt16,
	}
	ds.space = newCoordinateSpace(origin, spacing, orientation, [3]int{nx, ny, nz})
	return ds, nil
}

// checkOrthonormal verifies that the columns of m are unit length and
// mutually perpendicular within OrthonormalTol.
func checkOrthonormal(m mgl64.Mat3) error {
	for i := 0; i < 3; i++ {
		if !scalar.EqualWithinAbs(m.Col(i).Len(), 1.0, OrthonormalTol) {
			return fmt.Errorf("%w: orientation column %d is not unit length", ErrInvalidGeometry, i)
		}
		for j := i + 1; j < 3; j++ {
			if !scalar.EqualWithinAbs(m.Col(i).Dot(m.Col(j)), 0.0, OrthonormalTol) {
				return fmt.Errorf("%w: orientation columns %d and %d are not perpendicular", ErrInvalidGeometry, i, j)
			}
		}
	}
	return nil
}

// Dims returns the voxel grid dimensions (nx, ny, nz).
func (d *Dataset) Dims() (int, int, int) { return d.nx, d.ny, d.nz }

// Spacing returns the voxel spacing in millimeters along each axis.
func (d *Dataset) Spacing() mgl64.Vec3 { return d.spacing }

// Origin returns the patient-space position of voxel (0,0,0).
func (d *Dataset) Origin() mgl64.Vec3 { return d.origin }

// Orientation returns the direction cosine matrix mapping volume axes to
// patient axes.
func (d *Dataset) Orientation() mgl64.Mat3 { return d.orientation }

// Space returns the coordinate space derived from this dataset's geometry.
func (d *Dataset) Space() *CoordinateSpace { return d.space }

// OutsideValue is the intensity reported for positions beyond the volume.
func (d *Dataset) OutsideValue() int16 { return d.outside }

// At returns the sample at integer voxel coordinates, or the outside value
// when any coordinate falls past the grid.
func (d *Dataset) At(x, y, z int) int16 {
	if x < 0 || y < 0 || z < 0 || x >= d.nx || y >= d.ny || z >= d.nz {
		return d.outside
	}
	return d.data[(z*d.ny+y)*d.nx+x]
}

// LoadRaw reads a little-endian int16 raw volume file with the given
// dimensions, identity orientation and a zero origin. The file length must
// match nx*ny*nz samples exactly.
func LoadRaw(path string, nx, ny, nz int, spacing mgl64.Vec3) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open volume file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat volume file: %w", err)
	}
	want := int64(nx) * int64(ny) * int64(nz) * 2
	if info.Size() != want {
		return nil, fmt.Errorf("%w: %s holds %d bytes, want %d for (%d,%d,%d)",
			ErrInvalidGeometry, path, info.Size(), want, nx, ny, nz)
	}

	data := make([]int16, nx*ny*nz)
	if err := binary.Read(f, binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("failed to read volume samples: %w", err)
	}

	return NewDataset(data, nx, ny, nz, spacing, mgl64.Vec3{}, mgl64.Ident3())
}

// Phantom builds a deterministic synthetic dataset: an axial intensity ramp
// with a brighter centered sphere. Used by the demo binary and tests in
// place of a real scan.
func Phantom(nx, ny, nz int, spacing mgl64.Vec3) *Dataset {
	data := make([]int16, nx*ny*nz)
	cx := float64(nx-1) / 2
	cy := float64(ny-1) / 2
	cz := float64(nz-1) / 2
	radius := math.Min(cx, math.Min(cy, cz)) * 0.6

	for z := 0; z < nz; z++ {
		ramp := int16(0)
		if nz > 1 {
			ramp = int16(float64(z) / float64(nz-1) * 1000)
		}
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				v := ramp
				dx := float64(x) - cx
				dy := float64(y) - cy
				dz := float64(z) - cz
				if math.Sqrt(dx*dx+dy*dy+dz*dz) <= radius {
					v += 2000
				}
				data[(z*ny+y)*nx+x] = v
			}
		}
	}

	ds, err := NewDataset(data, nx, ny, nz, spacing, mgl64.Vec3{}, mgl64.Ident3())
	if err != nil {
		// All inputs are generated above; this cannot fail for valid dims.
		panic(err)
	}
	return ds
}
