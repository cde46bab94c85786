package engine

import (
	"sync"
	"sync/atomic"

	"mprengine/internal/models"
	"mprengine/pkg/geometry"
	"mprengine/pkg/projection"
	"mprengine/pkg/volume"
)

// pendingWork is the coalescing slot content: the request snapshot plus the
// dataset it was captured against, so a worker never reads live engine
// state.
type pendingWork struct {
	ds  *volume.Dataset
	req projection.Request
}

// view is the engine-side state for one registered plane view.
//
// gen is the view's generation counter: every enqueued request carries the
// value it was minted with, and a request is stale as soon as the counter
// has moved past it. pending holds only the newest queued request; writing
// over a not-yet-started request is the coalescing rule, and the generation
// check is the supersession rule for requests already computing.
type view struct {
	id models.ViewID

	gen atomic.Uint64

	mu          sync.Mutex
	orientation geometry.Orientation
	plane       geometry.Plane
	thicknessMM float64
	mode        projection.Mode

	pending    *pendingWork
	queued     bool
	atBoundary bool
	removed    bool

	updates chan models.Update
}

// publishLocked delivers u on the view's update channel with latest-wins
// semantics: a slow subscriber only ever sees the most recent update, never
// a backlog of stale ones. Caller holds v.mu.
func (v *view) publishLocked(u models.Update) {
	if v.removed {
		return
	}
	for {
		select {
		case v.updates <- u:
			return
		default:
			// Drop the stale buffered update and retry.
			select {
			case <-v.updates:
			default:
			}
		}
	}
}
