// Package routing orchestrates an external directions provider: it requests
// a path over an ordered list of delivery stops and reduces the response to
// ordered stops, per-leg metrics, and an encoded polyline.
package routing

import (
	"context"
	"fmt"
)

// Stop is a delivery stop candidate as seen by the optimizer.
type Stop struct {
	AppointmentID string `json:"appointment_id"`
	Address       string `json:"address"`
}

// Leg is one segment of a computed path. Missing metrics decode as zero.
type Leg struct {
	DistanceMeters  int64 `json:"distance_meters"`
	DurationSeconds int64 `json:"duration_seconds"`
}

// DirectionsRequest is the provider-facing request shape.
type DirectionsRequest struct {
	Origin            string
	Destination       string
	Waypoints         []string
	OptimizeWaypoints bool
}

// DirectionsResponse is the provider-facing response shape.
// WaypointOrder, when present, is a permutation of waypoint indexes.
type DirectionsResponse struct {
	Legs          []Leg
	WaypointOrder []int
	Polyline      string
}

// Provider computes directions between addresses.
type Provider interface {
	Directions(ctx context.Context, req DirectionsRequest) (*DirectionsResponse, error)
}

// Result is the optimizer output consumed by route building.
type Result struct {
	OrderedStops         []Stop
	Legs                 []Leg
	TotalDistanceMeters  int64
	TotalDurationSeconds int64
	Polyline             string
}

// ProviderError marks failures originating at the directions provider,
// so callers can distinguish them from validation and persistence failures.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("directions provider: %v", e.Err) }
func (e *ProviderError) Unwrap() error { return e.Err }

// ValidationError reports input rejected before any provider call.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }
