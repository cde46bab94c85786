package volume

import (
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scenarioSpace builds the reference geometry used throughout the tests:
// dims (512,512,300), spacing (0.5,0.5,1.0) mm, identity orientation.
func scenarioSpace(t *testing.T) *CoordinateSpace {
	t.Helper()
	s, err := NewCoordinateSpace(mgl64.Vec3{}, mgl64.Vec3{0.5, 0.5, 1.0}, mgl64.Ident3(), 512, 512, 300)
	require.NoError(t, err)
	return s
}

// rotated90Z is a valid non-identity direction cosine matrix: volume x maps
// to patient y, volume y to patient -x.
func rotated90Z() mgl64.Mat3 {
	return mgl64.Mat3FromCols(
		mgl64.Vec3{0, 1, 0},
		mgl64.Vec3{-1, 0, 0},
		mgl64.Vec3{0, 0, 1},
	)
}

// TestRoundTrip verifies that toIndex(toPatient(i)) reproduces the index
// within 1e-6 voxel units across the whole grid.
func TestRoundTrip(t *testing.T) {
	spaces := map[string]*CoordinateSpace{
		"identity": scenarioSpace(t),
	}
	rot, err := NewCoordinateSpace(mgl64.Vec3{-12.5, 4, 88}, mgl64.Vec3{0.7, 0.7, 2.5}, rotated90Z(), 128, 96, 40)
	require.NoError(t, err)
	spaces["rotated"] = rot

	rng := rand.New(rand.NewSource(1))
	for name, s := range spaces {
		t.Run(name, func(t *testing.T) {
			nx, ny, nz := s.Dims()
			for i := 0; i < 1000; i++ {
				idx := mgl64.Vec3{
					rng.Float64() * float64(nx-1),
					rng.Float64() * float64(ny-1),
					rng.Float64() * float64(nz-1),
				}
				back := s.ToIndex(s.ToPatient(idx))
				for axis := 0; axis < 3; axis++ {
					assert.InDelta(t, idx[axis], back[axis], 1e-6)
				}
			}
		})
	}
}

// TestCenter pins the concrete scenario: the geometric center of a
// (512,512,300) volume at spacing (0.5,0.5,1.0) is (127.75,127.75,149.5).
func TestCenter(t *testing.T) {
	s := scenarioSpace(t)
	c := s.Center()
	assert.InDelta(t, 127.75, c[0], 1e-9)
	assert.InDelta(t, 127.75, c[1], 1e-9)
	assert.InDelta(t, 149.5, c[2], 1e-9)
}

// TestSpacingAlong checks that lattice-plane spacing along a volume axis is
// the per-axis spacing, and that oblique directions interpolate sensibly.
func TestSpacingAlong(t *testing.T) {
	s := scenarioSpace(t)

	assert.InDelta(t, 0.5, s.SpacingAlong(mgl64.Vec3{1, 0, 0}), 1e-12)
	assert.InDelta(t, 0.5, s.SpacingAlong(mgl64.Vec3{0, 1, 0}), 1e-12)
	assert.InDelta(t, 1.0, s.SpacingAlong(mgl64.Vec3{0, 0, 1}), 1e-12)

	// Diagonal in the xy plane of an anisotropy-free pair: spacing is
	// preserved under rotation.
	d := mgl64.Vec3{1, 1, 0}.Normalize()
	assert.InDelta(t, 0.5, s.SpacingAlong(d), 1e-12)

	// With a rotated orientation the patient z direction follows the
	// volume z column.
	rot, err := NewCoordinateSpace(mgl64.Vec3{}, mgl64.Vec3{0.5, 0.5, 1.0}, rotated90Z(), 512, 512, 300)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, rot.SpacingAlong(mgl64.Vec3{0, 0, 1}), 1e-12)
	// Patient x is now volume -y.
	assert.InDelta(t, 0.5, rot.SpacingAlong(mgl64.Vec3{1, 0, 0}), 1e-12)
}

// TestClamp verifies clamping is a projection: idempotent, identity inside
// the box, and reported correctly.
func TestClamp(t *testing.T) {
	s := scenarioSpace(t)

	inside := mgl64.Vec3{100, 50, 200}
	got, clamped := s.Clamp(inside)
	assert.False(t, clamped)
	assert.Equal(t, inside, got)

	outside := mgl64.Vec3{-10, 300, 1e6}
	once, clamped := s.Clamp(outside)
	assert.True(t, clamped)
	twice, again := s.Clamp(once)
	assert.False(t, again)
	assert.Equal(t, once, twice)

	bmin, bmax := s.BoundingBox()
	assert.Equal(t, bmin[0], once[0])
	assert.Equal(t, bmax[1], once[1])
	assert.Equal(t, bmax[2], once[2])
}

// TestBoundingBoxRotated verifies the patient-space extent is the envelope
// of the rotated index box, not per-axis spans of the unrotated one.
func TestBoundingBoxRotated(t *testing.T) {
	s, err := NewCoordinateSpace(mgl64.Vec3{}, mgl64.Vec3{1, 1, 1}, rotated90Z(), 11, 21, 31)
	require.NoError(t, err)

	bmin, bmax := s.BoundingBox()
	// Volume x (extent 10) maps to patient y; volume y (extent 20) maps to
	// patient -x.
	assert.InDelta(t, -20, bmin[0], 1e-12)
	assert.InDelta(t, 0, bmax[0], 1e-12)
	assert.InDelta(t, 0, bmin[1], 1e-12)
	assert.InDelta(t, 10, bmax[1], 1e-12)
	assert.InDelta(t, 30, bmax[2], 1e-12)
}
