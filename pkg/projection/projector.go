package projection

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"

	"mprengine/pkg/volume"
)

// ErrSuperseded is returned when a projection aborts early because a newer
// request for the same view arrived while it was computing.
var ErrSuperseded = errors.New("projection: request superseded")

// ErrInvalidRequest is returned for requests with a non-positive raster or
// a negative thickness.
var ErrInvalidRequest = errors.New("projection: invalid request")

// Projector resamples slices and slab projections from a dataset. It is
// stateless between calls and safe for concurrent use; the dominant cost of
// the subsystem (O(W·H·K) samples per request) lives here, so output rows
// are striped across workers.
type Projector struct {
	workers int
	kernel  Kernel
}

// NewProjector creates a projector with the given internal parallelism and
// resampling kernel. workers <= 0 means one worker per CPU.
func NewProjector(workers int, kernel Kernel) *Projector {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Projector{workers: workers, kernel: kernel}
}

// Kernel returns the resampling kernel in use.
func (p *Projector) Kernel() Kernel { return p.kernel }

// Project extracts the slice or slab described by req from ds.
//
// For thickness at most one voxel-spacing along the normal this degenerates
// to a single resampled slice. Thicker requests sample
// ceil(thickness/spacing) parallel slices centered on the requested
// position and combine them pixel-wise per req.Mode; the combination is
// order independent, so results are reproducible regardless of which worker
// touched which row.
//
// cancelled is probed at every output row boundary; when it reports true
// the projection stops and ErrSuperseded is returned. A nil cancelled never
// cancels.
func (p *Projector) Project(ds *volume.Dataset, req Request, cancelled func() bool) (*Result, error) {
	if req.Width <= 0 || req.Height <= 0 {
		return nil, fmt.Errorf("%w: raster %dx%d", ErrInvalidRequest, req.Width, req.Height)
	}
	if req.PixelSpacing <= 0 {
		return nil, fmt.Errorf("%w: pixel spacing %g", ErrInvalidRequest, req.PixelSpacing)
	}
	if req.ThicknessMM < 0 || math.IsNaN(req.ThicknessMM) {
		return nil, fmt.Errorf("%w: thickness %g mm", ErrInvalidRequest, req.ThicknessMM)
	}

	space := ds.Space()
	normal := req.Plane.Normal()
	stepMM := space.SpacingAlong(normal)

	// Sample positions along the normal, symmetric about the crosshair
	// plane. K = 1 degenerates the slab to a plain resampled slice.
	k := 1
	if req.Mode != Single && req.ThicknessMM > stepMM && stepMM > 0 {
		k = int(math.Ceil(req.ThicknessMM / stepMM))
	}
	offsets := make([]float64, k)
	for i := range offsets {
		offsets[i] = (float64(i) - float64(k-1)/2) * stepMM
	}

	pixels := make([]int16, req.Width*req.Height)

	axisU := req.Plane.AxisU()
	axisV := req.Plane.AxisV()
	// Top-left pixel center, so the raster is centered on the crosshair.
	topLeft := req.Center.
		Sub(axisU.Mul(float64(req.Width-1) / 2 * req.PixelSpacing)).
		Sub(axisV.Mul(float64(req.Height-1) / 2 * req.PixelSpacing))

	var stopped atomic.Bool
	var wg sync.WaitGroup

	workers := p.workers
	if workers > req.Height {
		workers = req.Height
	}
	rowsPerWorker := (req.Height + workers - 1) / workers

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(startRow int) {
			defer wg.Done()
			endRow := startRow + rowsPerWorker
			if endRow > req.Height {
				endRow = req.Height
			}
			for row := startRow; row < endRow; row++ {
				if stopped.Load() {
					return
				}
				if cancelled != nil && cancelled() {
					stopped.Store(true)
					return
				}
				rowOrigin := topLeft.Add(axisV.Mul(float64(row) * req.PixelSpacing))
				for col := 0; col < req.Width; col++ {
					pos := rowOrigin.Add(axisU.Mul(float64(col) * req.PixelSpacing))
					pixels[row*req.Width+col] = p.samplePixel(ds, space, pos, normal, offsets, req.Mode)
				}
			}
		}(w * rowsPerWorker)
	}
	wg.Wait()

	if stopped.Load() {
		return nil, ErrSuperseded
	}

	return &Result{
		Pixels:       pixels,
		Width:        req.Width,
		Height:       req.Height,
		PixelSpacing: req.PixelSpacing,
		Request:      req,
	}, nil
}

// samplePixel resamples the slab column behind one output pixel and folds
// the samples per mode. Max, min and sum are all associative and
// commutative, so the fold order never changes the result.
func (p *Projector) samplePixel(ds *volume.Dataset, space *volume.CoordinateSpace, pos, normal mgl64.Vec3, offsets []float64, mode Mode) int16 {
	first := p.sample(ds, space, pos.Add(normal.Mul(offsets[0])))
	if len(offsets) == 1 {
		return roundToInt16(first)
	}

	switch mode {
	case MinIP:
		min := first
		for _, off := range offsets[1:] {
			if v := p.sample(ds, space, pos.Add(normal.Mul(off))); v < min {
				min = v
			}
		}
		return roundToInt16(min)
	case Average:
		sum := first
		for _, off := range offsets[1:] {
			sum += p.sample(ds, space, pos.Add(normal.Mul(off)))
		}
		return roundToInt16(sum / float64(len(offsets)))
	default: // MIP
		max := first
		for _, off := range offsets[1:] {
			if v := p.sample(ds, space, pos.Add(normal.Mul(off))); v > max {
				max = v
			}
		}
		return roundToInt16(max)
	}
}

// sample resamples the dataset at one patient-space position using the
// configured kernel. Positions outside the volume read the dataset's
// outside value.
func (p *Projector) sample(ds *volume.Dataset, space *volume.CoordinateSpace, pos mgl64.Vec3) float64 {
	idx := space.ToIndex(pos)

	if p.kernel == Nearest {
		return float64(ds.At(RoundIndex(idx[0]), RoundIndex(idx[1]), RoundIndex(idx[2])))
	}

	x0 := math.Floor(idx[0])
	y0 := math.Floor(idx[1])
	z0 := math.Floor(idx[2])
	fx := idx[0] - x0
	fy := idx[1] - y0
	fz := idx[2] - z0
	ix, iy, iz := int(x0), int(y0), int(z0)

	c000 := float64(ds.At(ix, iy, iz))
	c100 := float64(ds.At(ix+1, iy, iz))
	c010 := float64(ds.At(ix, iy+1, iz))
	c110 := float64(ds.At(ix+1, iy+1, iz))
	c001 := float64(ds.At(ix, iy, iz+1))
	c101 := float64(ds.At(ix+1, iy, iz+1))
	c011 := float64(ds.At(ix, iy+1, iz+1))
	c111 := float64(ds.At(ix+1, iy+1, iz+1))

	c00 := c000 + (c100-c000)*fx
	c10 := c010 + (c110-c010)*fx
	c01 := c001 + (c101-c001)*fx
	c11 := c011 + (c111-c011)*fx

	c0 := c00 + (c10-c00)*fy
	c1 := c01 + (c11-c01)*fy

	return c0 + (c1-c0)*fz
}

// RoundIndex rounds a continuous voxel coordinate to the nearest integer
// with ties toward positive infinity, matching the slice-index tie-break.
func RoundIndex(x float64) int {
	return int(math.Floor(x + 0.5))
}

// roundToInt16 rounds a combined intensity back to the output sample type,
// saturating at the int16 range.
func roundToInt16(v float64) int16 {
	r := math.Floor(v + 0.5)
	if r > math.MaxInt16 {
		return math.MaxInt16
	}
	if r < math.MinInt16 {
		return math.MinInt16
	}
	return int16(r)
}
