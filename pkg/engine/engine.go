// Package engine orchestrates multi-planar reconstruction: it owns the
// shared crosshair and the set of active plane views, coalesces and
// supersedes slice requests under rapid interactive input, and publishes
// results to per-view subscription channels.
//
// The engine is driven from a single interactive caller goroutine; slab
// projection is dispatched to an internal worker pool and never blocks the
// caller. Workers only see immutable request snapshots.
package engine

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	log "github.com/sirupsen/logrus"

	"mprengine/internal/models"
	"mprengine/pkg/geometry"
	"mprengine/pkg/navigation"
	"mprengine/pkg/projection"
	"mprengine/pkg/volume"
)

// ErrUnknownView is returned when an operation names a view that was never
// added (or was removed).
var ErrUnknownView = errors.New("engine: unknown view")

// ErrClosed is returned for operations on a closed engine.
var ErrClosed = errors.New("engine: closed")

// Options configures an Engine.
type Options struct {
	// Workers is the projection worker pool size. <= 0 means one per CPU.
	Workers int

	// QueueDepth bounds the work queue and therefore the number of
	// registered views, since coalescing keeps at most one queued request
	// per view. <= 0 selects the default of 16.
	QueueDepth int

	// Kernel is the resampling kernel applied by the projector.
	Kernel projection.Kernel

	// DefaultThicknessMM and DefaultMode seed newly added views.
	DefaultThicknessMM float64
	DefaultMode        projection.Mode
}

// Engine is the MPR composition root.
type Engine struct {
	projector *projection.Projector
	opts      Options

	crosshair *navigation.Crosshair

	// mu guards the fields below. Held only for cheap bookkeeping, never
	// across a projection.
	mu        sync.Mutex
	dataset   *volume.Dataset
	space     *volume.CoordinateSpace
	navigator *navigation.Navigator
	views     map[models.ViewID]*view
	closed    bool

	work chan *view
	wg   sync.WaitGroup
}

// New creates an engine with the given options and starts its worker pool.
// Navigation is accepted immediately; until a volume is attached the
// crosshair moves inside a unit default space and subscribers receive
// NotReady updates.
func New(opts Options) *Engine {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 16
	}
	e := &Engine{
		projector: projection.NewProjector(opts.Workers, opts.Kernel),
		opts:      opts,
		space:     volume.DefaultSpace(),
		views:     make(map[models.ViewID]*view),
		work:      make(chan *view, opts.QueueDepth),
	}
	e.navigator = navigation.NewNavigator(e.space)
	e.crosshair = navigation.NewCrosshair(e.space)
	e.crosshair.SetOnChange(e.onCrosshairChanged)

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	e.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go e.worker()
	}

	return e
}

// AttachVolume installs a dataset, rebuilds the coordinate space and the
// navigator atomically, and recenters the crosshair, which re-requests
// every view. View planes are patient-space values and carry over
// unchanged. The dataset is borrowed read-only.
func (e *Engine) AttachVolume(ds *volume.Dataset) error {
	if ds == nil {
		return fmt.Errorf("%w: nil dataset", volume.ErrInvalidGeometry)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.dataset = ds
	e.space = ds.Space()
	e.navigator = navigation.NewNavigator(e.space)
	e.mu.Unlock()

	nx, ny, nz := ds.Dims()
	log.WithFields(log.Fields{
		"dims":    fmt.Sprintf("%dx%dx%d", nx, ny, nz),
		"spacing": ds.Spacing(),
	}).Info("volume attached")

	// Recentering fires the change notification, which re-requests all
	// views against the new geometry.
	e.crosshair.Reset(e.space)
	return nil
}

// AddView registers a plane view under a caller-chosen stable identifier
// and issues its initial request.
func (e *Engine) AddView(id models.ViewID, o geometry.Orientation) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if _, ok := e.views[id]; ok {
		e.mu.Unlock()
		return fmt.Errorf("engine: view %q already exists", id)
	}
	if len(e.views) >= e.opts.QueueDepth {
		e.mu.Unlock()
		return fmt.Errorf("engine: view limit %d reached", e.opts.QueueDepth)
	}
	v := &view{
		id:          id,
		orientation: o,
		plane:       geometry.Canonical(o),
		thicknessMM: e.opts.DefaultThicknessMM,
		mode:        e.opts.DefaultMode,
		updates:     make(chan models.Update, 1),
	}
	e.views[id] = v
	ds := e.dataset
	space := e.space
	e.mu.Unlock()

	e.enqueue(v, ds, space)
	return nil
}

// RemoveView deregisters a view and closes its update channel. Any
// in-flight computation for it is discarded.
func (e *Engine) RemoveView(id models.ViewID) error {
	e.mu.Lock()
	v, ok := e.views[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownView, id)
	}
	delete(e.views, id)
	e.mu.Unlock()

	v.gen.Add(1)
	v.mu.Lock()
	v.pending = nil
	v.removed = true
	close(v.updates)
	v.mu.Unlock()
	return nil
}

// Subscribe returns the view's update stream. Each view has a single
// latest-wins buffered channel; a renderer that falls behind only ever
// misses intermediate frames, never the newest one. The channel is closed
// when the view is removed or the engine shuts down.
func (e *Engine) Subscribe(id models.ViewID) (<-chan models.Update, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.views[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownView, id)
	}
	return v.updates, nil
}

// SetOrientation re-derives the view's plane for a canonical orientation
// and re-requests it. Use SetOblique for arbitrary normals.
func (e *Engine) SetOrientation(id models.ViewID, o geometry.Orientation) error {
	if o == geometry.ObliqueOrientation {
		return fmt.Errorf("engine: use SetOblique for oblique planes")
	}
	e.mu.Lock()
	v, ok := e.views[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownView, id)
	}
	ds, space := e.dataset, e.space
	v.mu.Lock()
	v.orientation = o
	v.plane = geometry.Canonical(o)
	v.mu.Unlock()
	e.mu.Unlock()

	e.enqueue(v, ds, space)
	return nil
}

// SetOblique installs an oblique plane on the view. A degenerate normal is
// rejected immediately with InvalidGeometry and the view keeps its current
// plane.
func (e *Engine) SetOblique(id models.ViewID, normal, upHint mgl64.Vec3) error {
	plane, err := geometry.Oblique(normal, upHint)
	if err != nil {
		return err
	}
	e.mu.Lock()
	v, ok := e.views[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownView, id)
	}
	ds, space := e.dataset, e.space
	v.mu.Lock()
	v.orientation = geometry.ObliqueOrientation
	v.plane = plane
	v.mu.Unlock()
	e.mu.Unlock()

	e.enqueue(v, ds, space)
	return nil
}

// SetThickness updates the view's slab thickness and projection mode and
// re-requests it.
func (e *Engine) SetThickness(id models.ViewID, mm float64, mode projection.Mode) error {
	if mm < 0 {
		return fmt.Errorf("engine: negative slab thickness %g mm", mm)
	}
	e.mu.Lock()
	v, ok := e.views[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownView, id)
	}
	ds, space := e.dataset, e.space
	v.mu.Lock()
	v.thicknessMM = mm
	v.mode = mode
	v.mu.Unlock()
	e.mu.Unlock()

	e.enqueue(v, ds, space)
	return nil
}

// OnCrosshairDrag moves the crosshair within the view's plane by (dx, dy)
// millimeters. All views are re-requested through the crosshair change
// notification. The returned flag reports whether the drag was clamped at
// the volume edge.
func (e *Engine) OnCrosshairDrag(id models.ViewID, dx, dy float64) (bool, error) {
	v, plane, err := e.viewPlane(id)
	if err != nil {
		return false, err
	}
	clamped := e.crosshair.MoveAlong(plane, dx, dy)
	v.mu.Lock()
	v.atBoundary = clamped
	v.mu.Unlock()
	return clamped, nil
}

// OnScroll scrubs the view by deltaSlices voxel-spacings along its normal.
// The returned flag reports whether the scroll hit the volume edge, so the
// UI can stop rubber-banding in that direction.
func (e *Engine) OnScroll(id models.ViewID, deltaSlices float64) (bool, error) {
	v, plane, err := e.viewPlane(id)
	if err != nil {
		return false, err
	}
	clamped := e.crosshair.AdvanceSlice(plane, deltaSlices)
	v.mu.Lock()
	v.atBoundary = clamped
	v.mu.Unlock()
	return clamped, nil
}

// JumpToSlice sets the view's slice index directly, preserving the
// crosshair's in-plane position. An out-of-range index is clamped and
// reported, never an error.
func (e *Engine) JumpToSlice(id models.ViewID, index int) (bool, error) {
	v, plane, err := e.viewPlane(id)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	nav := e.navigator
	e.mu.Unlock()

	point, clampedIdx := nav.PointForSliceIndex(plane, index, e.crosshair.Get())
	clampedSet := e.crosshair.Set(point)
	clamped := clampedIdx || clampedSet
	v.mu.Lock()
	v.atBoundary = clamped
	v.mu.Unlock()
	return clamped, nil
}

// SliceInfo returns the view's current slice index, slice count and
// boundary flag for on-screen readouts.
func (e *Engine) SliceInfo(id models.ViewID) (models.SliceInfo, error) {
	v, plane, err := e.viewPlane(id)
	if err != nil {
		return models.SliceInfo{}, err
	}
	e.mu.Lock()
	nav := e.navigator
	e.mu.Unlock()

	v.mu.Lock()
	atBoundary := v.atBoundary
	v.mu.Unlock()

	return models.SliceInfo{
		Index:      nav.SliceIndex(plane, e.crosshair.Get()),
		Count:      nav.SliceCount(plane),
		AtBoundary: atBoundary,
	}, nil
}

// Crosshair returns the current shared cursor position in patient space.
func (e *Engine) Crosshair() mgl64.Vec3 { return e.crosshair.Get() }

// Close stops the worker pool and closes every view's update channel.
// Pending work is abandoned.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	views := make([]*view, 0, len(e.views))
	for _, v := range e.views {
		views = append(views, v)
	}
	e.views = make(map[models.ViewID]*view)
	e.mu.Unlock()

	close(e.work)
	e.wg.Wait()

	for _, v := range views {
		v.mu.Lock()
		if !v.removed {
			v.removed = true
			close(v.updates)
		}
		v.mu.Unlock()
	}
}

// viewPlane resolves a view and a snapshot of its plane.
func (e *Engine) viewPlane(id models.ViewID) (*view, geometry.Plane, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.views[id]
	if !ok {
		return nil, geometry.Plane{}, fmt.Errorf("%w: %q", ErrUnknownView, id)
	}
	v.mu.Lock()
	plane := v.plane
	v.mu.Unlock()
	return v, plane, nil
}

// onCrosshairChanged is the crosshair's change notification: every mutation
// of the shared cursor re-requests every view.
func (e *Engine) onCrosshairChanged(p mgl64.Vec3) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	ds, space := e.dataset, e.space
	views := make([]*view, 0, len(e.views))
	for _, v := range e.views {
		views = append(views, v)
	}
	e.mu.Unlock()

	log.WithField("crosshair", p).Debug("crosshair moved")
	for _, v := range views {
		e.enqueue(v, ds, space)
	}
}

// enqueue captures an immutable request snapshot for the view and places it
// in the view's coalescing slot. If an older request is still queued it is
// overwritten without ever being computed; if one is already computing, the
// bumped generation supersedes it. Never blocks: the queue holds at most
// one token per view.
func (e *Engine) enqueue(v *view, ds *volume.Dataset, space *volume.CoordinateSpace) {
	center := e.crosshair.Get()

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.removed {
		return
	}

	if ds == nil {
		v.publishLocked(models.Update{View: v.id, Status: models.StatusNotReady})
		return
	}

	width, height, pixelSpacing := projection.DefaultRaster(space, v.plane)
	req := projection.Request{
		Plane:        v.plane,
		Center:       center,
		ThicknessMM:  v.thicknessMM,
		Mode:         v.mode,
		Width:        width,
		Height:       height,
		PixelSpacing: pixelSpacing,
		Generation:   v.gen.Add(1),
	}
	v.pending = &pendingWork{ds: ds, req: req}

	if !v.queued {
		select {
		case e.work <- v:
			v.queued = true
		default:
			// Queue saturated; the pending slot survives and the next
			// event re-attempts the token.
			log.WithField("view", v.id).Warn("work queue full, request deferred")
		}
	}
}

// worker drains the work queue. A token represents "this view has a pending
// request", not a specific request: the newest snapshot is read at start of
// compute, which is what makes back-to-back gestures coalesce.
func (e *Engine) worker() {
	defer e.wg.Done()
	for v := range e.work {
		v.mu.Lock()
		pw := v.pending
		v.pending = nil
		v.queued = false
		if pw == nil {
			v.mu.Unlock()
			continue
		}
		v.mu.Unlock()

		res, err := e.safeProject(pw.ds, pw.req, func() bool {
			return v.gen.Load() != pw.req.Generation
		})

		v.mu.Lock()
		switch {
		case errors.Is(err, projection.ErrSuperseded):
			// Cancelled mid-flight; the newer request delivers instead.
		case err != nil:
			// A stale failure must not displace a newer Ready on the
			// latest-wins channel; the superseding request reports for
			// itself.
			if v.gen.Load() == pw.req.Generation {
				v.publishLocked(models.Update{View: v.id, Status: models.StatusComputeFailed, Err: err})
			}
			log.WithFields(log.Fields{"view": v.id, "error": err}).Warn("slice computation failed")
		case v.gen.Load() != pw.req.Generation:
			// Completed but stale: a newer request was enqueued while this
			// one ran. Discard so the caller never observes a result older
			// than the current crosshair.
		default:
			v.publishLocked(models.Update{View: v.id, Status: models.StatusReady, Result: res})
		}
		v.mu.Unlock()
	}
}

// safeProject runs one projection and converts a panic (an oversized slab
// allocation, a projector bug) into a per-request error, so a single
// pathological request fails its view instead of taking down the worker
// pool.
func (e *Engine) safeProject(ds *volume.Dataset, req projection.Request, cancelled func() bool) (res *projection.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: projection panic: %v", r)
		}
	}()
	return e.projector.Project(ds, req, cancelled)
}
