// Package tracker runs on the driver device: it samples position from a
// PositionSource, applies movement/pause heuristics, throttles transmission,
// and queues updates locally while offline.
package tracker

import (
	"context"
	"errors"
	"time"
)

// Status is the sampler lifecycle state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusTracking Status = "tracking"
	StatusPaused   Status = "paused"
	StatusDenied   Status = "denied"
	StatusError    Status = "error"
)

// ErrPermissionDenied signals the position source refused access.
// The sampler downgrades to manual single-shot updates instead of failing.
var ErrPermissionDenied = errors.New("position source: permission denied")

// Sample is one position reading from the device.
type Sample struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	HeadingDeg *float64  `json:"heading,omitempty"`
	SpeedKmh   *float64  `json:"speed,omitempty"`
	AccuracyM  *float64  `json:"accuracy,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// Update is a sample bound to a route, the unit of transmission and queuing.
type Update struct {
	RouteID string `json:"route_id"`
	Sample
}

// PositionSource yields continuous position samples. Implementations wrap a
// GPS daemon, a simulator, or a test fixture.
type PositionSource interface {
	// Watch streams samples until ctx is cancelled. Source failures,
	// including ErrPermissionDenied, arrive on the error channel.
	Watch(ctx context.Context) (<-chan Sample, <-chan error)
	// Current returns a single reading, the degraded path after denial.
	Current(ctx context.Context) (Sample, error)
}

// Transmitter delivers updates to the backend.
type Transmitter interface {
	Send(ctx context.Context, u Update) error
}
