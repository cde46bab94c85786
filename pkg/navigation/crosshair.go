// Package navigation maintains the shared patient-space crosshair and
// converts between crosshair positions, slice indices and interactive
// gestures (drag, scroll, direct slice jumps).
package navigation

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"mprengine/pkg/geometry"
	"mprengine/pkg/volume"
)

// Crosshair is the single authoritative 3D cursor shared by all plane
// views. The stored point is always clamped to the volume's continuous
// bounding box. Mutations are atomic with respect to concurrent reads;
// every mutation fires the change callback installed by the owning engine.
type Crosshair struct {
	mu    sync.RWMutex
	point mgl64.Vec3
	space *volume.CoordinateSpace

	onChange func(mgl64.Vec3)
}

// NewCrosshair creates a crosshair centered in the given space.
func NewCrosshair(space *volume.CoordinateSpace) *Crosshair {
	return &Crosshair{point: space.Center(), space: space}
}

// SetOnChange installs the change-notification callback. The callback runs
// after the mutation, outside the crosshair's lock, on the mutating
// goroutine.
func (c *Crosshair) SetOnChange(fn func(mgl64.Vec3)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Reset rebinds the crosshair to a new coordinate space and recenters it.
// Called when a volume is attached or detached.
func (c *Crosshair) Reset(space *volume.CoordinateSpace) {
	c.mu.Lock()
	c.space = space
	c.point = space.Center()
	fn, p := c.onChange, c.point
	c.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

// Get returns the current patient-space cursor position.
func (c *Crosshair) Get() mgl64.Vec3 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.point
}

// Space returns the coordinate space the crosshair is clamped against.
func (c *Crosshair) Space() *volume.CoordinateSpace {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.space
}

// Set stores p clamped to the volume bounding box and reports whether
// clamping moved the point. Hitting the boundary is routine during
// scrubbing, never an error.
func (c *Crosshair) Set(p mgl64.Vec3) bool {
	c.mu.Lock()
	clamped := c.storeLocked(p)
	fn, stored := c.onChange, c.point
	c.mu.Unlock()
	if fn != nil {
		fn(stored)
	}
	return clamped
}

// MoveAlong shifts the cursor within the plane's basis by (dx, dy)
// millimeters, the crosshair-drag gesture. Reports whether the move was
// clamped at the volume edge.
func (c *Crosshair) MoveAlong(plane geometry.Plane, dx, dy float64) bool {
	c.mu.Lock()
	target := c.point.Add(plane.AxisU().Mul(dx)).Add(plane.AxisV().Mul(dy))
	clamped := c.storeLocked(target)
	fn, stored := c.onChange, c.point
	c.mu.Unlock()
	if fn != nil {
		fn(stored)
	}
	return clamped
}

// AdvanceSlice moves the cursor deltaSlices voxel-spacings along the
// plane's normal, the scroll-to-scrub gesture. Reports whether the move was
// clamped at the volume edge.
func (c *Crosshair) AdvanceSlice(plane geometry.Plane, deltaSlices float64) bool {
	c.mu.Lock()
	step := c.space.SpacingAlong(plane.Normal())
	target := c.point.Add(plane.Normal().Mul(deltaSlices * step))
	clamped := c.storeLocked(target)
	fn, stored := c.onChange, c.point
	c.mu.Unlock()
	if fn != nil {
		fn(stored)
	}
	return clamped
}

// storeLocked clamps and stores p. Caller holds c.mu.
func (c *Crosshair) storeLocked(p mgl64.Vec3) bool {
	var clamped bool
	c.point, clamped = c.space.Clamp(p)
	return clamped
}
