package store

import (
	"errors"
	"time"
)

// Stop statuses.
const (
	StopStatusPending   = "pending"
	StopStatusArrived   = "arrived"
	StopStatusCompleted = "completed"
	StopStatusSkipped   = "skipped"
)

// RouteStop is one persisted stop within a built route.
type RouteStop struct {
	RouteID       string     `json:"route_id"`
	AppointmentID string     `json:"appointment_id"`
	StopOrder     int        `json:"stop_order"`
	Status        string     `json:"status"`
	ETA           *time.Time `json:"eta"`
	CompletedAt   *time.Time `json:"completed_at"`

	// Joined appointment fields
	CustomerName string `json:"customer_name"`
	Address      string `json:"address"`
	WindowLabel  string `json:"window_label"`
}

// InsertRouteStop adds one stop row. ETA may be nil when the route was not optimized.
func (db *DB) InsertRouteStop(s *RouteStop) error {
	_, err := db.Exec(db.Q(`INSERT INTO route_stops (route_id, appointment_id, stop_order, status, eta)
		VALUES (?, ?, ?, ?, ?)`),
		s.RouteID, s.AppointmentID, s.StopOrder, s.Status, fmtTimePtr(s.ETA))
	return err
}

// ListStopsForRoute returns a route's stops in stop order with appointment details joined.
func (db *DB) ListStopsForRoute(routeID string) ([]RouteStop, error) {
	rows, err := db.Query(db.Q(`SELECT rs.route_id, rs.appointment_id, rs.stop_order, rs.status,
			rs.eta, rs.completed_at,
			COALESCE(a.customer_name, ''), COALESCE(a.address, ''), COALESCE(a.window_label, '')
		FROM route_stops rs
		LEFT JOIN appointments a ON a.id = rs.appointment_id
		WHERE rs.route_id = ?
		ORDER BY rs.stop_order`), routeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var stops []RouteStop
	for rows.Next() {
		var s RouteStop
		var eta, completedAt any
		if err := rows.Scan(&s.RouteID, &s.AppointmentID, &s.StopOrder, &s.Status,
			&eta, &completedAt, &s.CustomerName, &s.Address, &s.WindowLabel); err != nil {
			return nil, err
		}
		s.ETA = scanTimePtr(eta)
		s.CompletedAt = scanTimePtr(completedAt)
		stops = append(stops, s)
	}
	return stops, rows.Err()
}

// ErrStopNotFound is returned when a status update names a stop that is not on the route.
var ErrStopNotFound = errors.New("stop not found on route")

// UpdateStopStatus sets a stop's status; completed stops get a completion timestamp.
func (db *DB) UpdateStopStatus(routeID, appointmentID, status string) error {
	var completedAt any
	if status == StopStatusCompleted {
		completedAt = fmtTime(time.Now())
	}
	result, err := db.Exec(db.Q(`UPDATE route_stops SET status = ?, completed_at = ?
		WHERE route_id = ? AND appointment_id = ?`),
		status, completedAt, routeID, appointmentID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStopNotFound
	}
	return nil
}

// CountOpenStops returns the number of stops not yet completed or skipped.
func (db *DB) CountOpenStops(routeID string) (int, error) {
	var n int
	err := db.QueryRow(db.Q(`SELECT COUNT(*) FROM route_stops
		WHERE route_id = ? AND status NOT IN (?, ?)`),
		routeID, StopStatusCompleted, StopStatusSkipped).Scan(&n)
	return n, err
}

// DeleteStopsForRoute removes all stop rows for a route.
func (db *DB) DeleteStopsForRoute(routeID string) error {
	_, err := db.Exec(db.Q(`DELETE FROM route_stops WHERE route_id = ?`), routeID)
	return err
}
