package navigation

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mprengine/pkg/geometry"
	"mprengine/pkg/volume"
)

// scenarioSpace is the reference CT geometry: dims (512,512,300),
// spacing (0.5,0.5,1.0), identity orientation, origin zero.
func scenarioSpace(t *testing.T) *volume.CoordinateSpace {
	t.Helper()
	s, err := volume.NewCoordinateSpace(mgl64.Vec3{}, mgl64.Vec3{0.5, 0.5, 1.0}, mgl64.Ident3(), 512, 512, 300)
	require.NoError(t, err)
	return s
}

func TestRoundHalfUp(t *testing.T) {
	cases := map[float64]int{
		0.0:   0,
		0.49:  0,
		0.5:   1,
		1.5:   2,
		-0.5:  0,
		-0.51: -1,
		149.5: 150,
		255.5: 256,
	}
	for in, want := range cases {
		assert.Equal(t, want, RoundHalfUp(in), "RoundHalfUp(%v)", in)
	}
}

// TestSliceIndexScenario pins the concrete scenario: a crosshair at the
// volume center lands on axial slice 150 and coronal/sagittal slice 256
// with the round-half-up tie-break.
func TestSliceIndexScenario(t *testing.T) {
	s := scenarioSpace(t)
	nav := NewNavigator(s)
	center := s.Center()

	axial := geometry.Canonical(geometry.Axial)
	coronal := geometry.Canonical(geometry.Coronal)
	sagittal := geometry.Canonical(geometry.Sagittal)

	assert.Equal(t, 150, nav.SliceIndex(axial, center))
	assert.Equal(t, 256, nav.SliceIndex(coronal, center))
	assert.Equal(t, 256, nav.SliceIndex(sagittal, center))

	assert.Equal(t, 300, nav.SliceCount(axial))
	assert.Equal(t, 512, nav.SliceCount(coronal))
	assert.Equal(t, 512, nav.SliceCount(sagittal))
}

// TestOrthogonalSync verifies that navigation on one plane leaves the other
// planes' indices untouched unless the motion has a component along their
// normals.
func TestOrthogonalSync(t *testing.T) {
	s := scenarioSpace(t)
	nav := NewNavigator(s)

	axial := geometry.Canonical(geometry.Axial)
	coronal := geometry.Canonical(geometry.Coronal)
	sagittal := geometry.Canonical(geometry.Sagittal)

	ch := NewCrosshair(s)
	coronalBefore := nav.SliceIndex(coronal, ch.Get())
	sagittalBefore := nav.SliceIndex(sagittal, ch.Get())
	axialBefore := nav.SliceIndex(axial, ch.Get())

	t.Run("scrub does not move in-plane coordinates", func(t *testing.T) {
		ch.AdvanceSlice(axial, 7)
		assert.Equal(t, axialBefore+7, nav.SliceIndex(axial, ch.Get()))
		assert.Equal(t, coronalBefore, nav.SliceIndex(coronal, ch.Get()))
		assert.Equal(t, sagittalBefore, nav.SliceIndex(sagittal, ch.Get()))
		ch.AdvanceSlice(axial, -7)
	})

	t.Run("axial drag along u moves only sagittal", func(t *testing.T) {
		// The axial in-plane x axis is the sagittal normal: 3 mm is 6
		// sagittal slices at 0.5 mm spacing, while coronal and axial
		// must hold still.
		ch.MoveAlong(axial, 3, 0)
		assert.Equal(t, sagittalBefore+6, nav.SliceIndex(sagittal, ch.Get()))
		assert.Equal(t, coronalBefore, nav.SliceIndex(coronal, ch.Get()))
		assert.Equal(t, axialBefore, nav.SliceIndex(axial, ch.Get()))
		ch.MoveAlong(axial, -3, 0)
	})

	t.Run("axial drag along v moves only coronal", func(t *testing.T) {
		ch.MoveAlong(axial, 0, -2)
		assert.Equal(t, coronalBefore-4, nav.SliceIndex(coronal, ch.Get()))
		assert.Equal(t, sagittalBefore, nav.SliceIndex(sagittal, ch.Get()))
		assert.Equal(t, axialBefore, nav.SliceIndex(axial, ch.Get()))
	})
}

// TestPointForSliceIndex covers the inverse mapping: in-plane components
// preserved, out-of-range indices clamped and reported.
func TestPointForSliceIndex(t *testing.T) {
	s := scenarioSpace(t)
	nav := NewNavigator(s)
	axial := geometry.Canonical(geometry.Axial)
	current := mgl64.Vec3{40.25, 33.5, 100}

	t.Run("in range", func(t *testing.T) {
		p, clamped := nav.PointForSliceIndex(axial, 42, current)
		assert.False(t, clamped)
		assert.InDelta(t, 40.25, p[0], 1e-12)
		assert.InDelta(t, 33.5, p[1], 1e-12)
		assert.InDelta(t, 42, p[2], 1e-12)
		assert.Equal(t, 42, nav.SliceIndex(axial, p))
	})

	t.Run("below range", func(t *testing.T) {
		p, clamped := nav.PointForSliceIndex(axial, -3, current)
		assert.True(t, clamped)
		assert.Equal(t, 0, nav.SliceIndex(axial, p))
	})

	t.Run("above range", func(t *testing.T) {
		p, clamped := nav.PointForSliceIndex(axial, 10_000, current)
		assert.True(t, clamped)
		assert.Equal(t, nav.SliceCount(axial)-1, nav.SliceIndex(axial, p))
	})
}

// TestSliceIndexObliquePlane sanity-checks index/count along a diagonal
// normal: the count tracks the bounding-box extent in lattice-spacing
// units.
func TestSliceIndexObliquePlane(t *testing.T) {
	s, err := volume.NewCoordinateSpace(mgl64.Vec3{}, mgl64.Vec3{1, 1, 1}, mgl64.Ident3(), 101, 101, 101)
	require.NoError(t, err)
	nav := NewNavigator(s)

	plane, err := geometry.Oblique(mgl64.Vec3{1, 1, 1}, mgl64.Vec3{0, 0, 1})
	require.NoError(t, err)

	count := nav.SliceCount(plane)
	// Extent along the diagonal is 100*sqrt(3) ≈ 173.2 mm at a unit
	// effective spacing, so 173 steps + 1.
	assert.Equal(t, 174, count)

	low := mgl64.Vec3{0, 0, 0}
	high := mgl64.Vec3{100, 100, 100}
	assert.Equal(t, 0, nav.SliceIndex(plane, low))
	assert.Equal(t, count-1, nav.SliceIndex(plane, high))
}
