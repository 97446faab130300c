// Package feed carries the per-route change feed: stop-record changes and
// driver-location changes, dispatched in-process and fanned out to SSE
// subscribers and the optional broker relay.
package feed

import "time"

// EventType discriminates feed events.
type EventType string

const (
	EventStopChanged    EventType = "stop-change"
	EventDriverLocation EventType = "driver-location"
	EventRouteStatus    EventType = "route-status"
)

// Event is one route-scoped change.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	RouteID   string    `json:"route_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// StopChangedEvent reports one stop record's new state.
type StopChangedEvent struct {
	AppointmentID string     `json:"appointment_id"`
	Status        string     `json:"status"`
	StopOrder     int        `json:"stop_order,omitempty"`
	ETA           *time.Time `json:"eta,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// DriverLocationEvent reports the driver's latest position.
type DriverLocationEvent struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RouteStatusEvent reports a route status transition.
type RouteStatusEvent struct {
	Status string `json:"status"`
}
