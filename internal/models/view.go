// Package models holds the value types shared between the engine and its
// consumers: view identifiers, the update stream payload, and on-screen
// readout data.
package models

import (
	"fmt"

	"mprengine/pkg/projection"
)

// ViewID is a stable identifier for one plane view, chosen by the caller
// when the view is registered.
type ViewID string

// Status tags one entry of a view's update stream.
type Status int

const (
	// StatusNotReady means a slice was requested before any volume was
	// attached. Not fatal; navigation is still accepted.
	StatusNotReady Status = iota

	// StatusReady carries a finished slice result.
	StatusReady

	// StatusComputeFailed reports a per-request worker failure. The
	// engine remains usable; the caller decides whether to re-issue.
	StatusComputeFailed
)

func (s Status) String() string {
	switch s {
	case StatusNotReady:
		return "not-ready"
	case StatusReady:
		return "ready"
	case StatusComputeFailed:
		return "compute-failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Update is one entry of a view's result stream. Result is non-nil only
// for StatusReady; Err is non-nil only for StatusComputeFailed.
type Update struct {
	View   ViewID
	Status Status
	Result *projection.Result
	Err    error
}

// SliceInfo is the per-view readout published to the UI layer: the current
// slice index and count, and whether the last navigation gesture hit the
// volume edge.
type SliceInfo struct {
	Index      int
	Count      int
	AtBoundary bool
}
