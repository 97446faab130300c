package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Route statuses. Transitions are monotonic; completed is terminal.
const (
	RouteStatusPending   = "pending"
	RouteStatusBuilt     = "built"
	RouteStatusActive    = "active"
	RouteStatusCompleted = "completed"
)

var routeStatusRank = map[string]int{
	RouteStatusPending:   0,
	RouteStatusBuilt:     1,
	RouteStatusActive:    2,
	RouteStatusCompleted: 3,
}

// ErrStatusTransition is returned when a route status update would move backwards.
var ErrStatusTransition = errors.New("invalid route status transition")

// Route is a persisted delivery route for a given week.
type Route struct {
	ID              string     `json:"id"`
	WeekOf          string     `json:"week_of"`
	Name            string     `json:"name"`
	Status          string     `json:"status"`
	Polyline        string     `json:"polyline"`
	DistanceMeters  int64      `json:"distance_meters"`
	DurationSeconds int64      `json:"duration_seconds"`
	DriverID        *string    `json:"driver_id"`
	StartTime       *time.Time `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

const routeSelectCols = `id, week_of, name, status, polyline, distance_meters, duration_seconds,
	driver_id, start_time, end_time, created_at, updated_at`

func scanRoute(row interface{ Scan(...any) error }) (*Route, error) {
	var r Route
	var driverID sql.NullString
	var startTime, endTime, createdAt, updatedAt any
	err := row.Scan(&r.ID, &r.WeekOf, &r.Name, &r.Status, &r.Polyline,
		&r.DistanceMeters, &r.DurationSeconds, &driverID, &startTime, &endTime, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if driverID.Valid {
		r.DriverID = &driverID.String
	}
	r.StartTime = scanTimePtr(startTime)
	r.EndTime = scanTimePtr(endTime)
	if t := scanTimePtr(createdAt); t != nil {
		r.CreatedAt = *t
	}
	if t := scanTimePtr(updatedAt); t != nil {
		r.UpdatedAt = *t
	}
	return &r, nil
}

// InsertRoute creates a route row in pending status.
func (db *DB) InsertRoute(r *Route) error {
	var driverID any
	if r.DriverID != nil {
		driverID = *r.DriverID
	}
	_, err := db.Exec(db.Q(`INSERT INTO routes (id, week_of, name, status, driver_id, start_time)
		VALUES (?, ?, ?, ?, ?, ?)`),
		r.ID, r.WeekOf, r.Name, r.Status, driverID, fmtTimePtr(r.StartTime))
	return err
}

// GetRoute returns a route by ID, or nil when it does not exist.
func (db *DB) GetRoute(id string) (*Route, error) {
	row := db.QueryRow(db.Q(`SELECT `+routeSelectCols+` FROM routes WHERE id = ?`), id)
	r, err := scanRoute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// ListRoutesForWeek returns all routes for a week, newest first.
func (db *DB) ListRoutesForWeek(weekOf string) ([]Route, error) {
	rows, err := db.Query(db.Q(`SELECT `+routeSelectCols+` FROM routes
		WHERE week_of = ? ORDER BY created_at DESC`), weekOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var routes []Route
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		routes = append(routes, *r)
	}
	return routes, rows.Err()
}

// RouteNamesForWeek returns the set of route names already used for a week.
func (db *DB) RouteNamesForWeek(weekOf string) (map[string]bool, error) {
	rows, err := db.Query(db.Q(`SELECT name FROM routes WHERE week_of = ?`), weekOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names[name] = true
	}
	return names, rows.Err()
}

// MarkRouteBuilt persists the computed route summary and flips status to built.
func (db *DB) MarkRouteBuilt(id, polyline string, distanceMeters, durationSeconds int64) error {
	_, err := db.Exec(db.Q(`UPDATE routes
		SET polyline = ?, distance_meters = ?, duration_seconds = ?, status = ?, updated_at = datetime('now')
		WHERE id = ?`),
		polyline, distanceMeters, durationSeconds, RouteStatusBuilt, id)
	return err
}

// UpdateRouteStatus advances a route's status. Back-transitions are rejected.
func (db *DB) UpdateRouteStatus(id, status string) error {
	newRank, ok := routeStatusRank[status]
	if !ok {
		return fmt.Errorf("unknown route status: %s", status)
	}
	r, err := db.GetRoute(id)
	if err != nil {
		return err
	}
	if r == nil {
		return sql.ErrNoRows
	}
	if routeStatusRank[r.Status] > newRank {
		return fmt.Errorf("%w: %s -> %s", ErrStatusTransition, r.Status, status)
	}
	var endTime any
	if status == RouteStatusCompleted {
		endTime = fmtTime(time.Now())
		_, err = db.Exec(db.Q(`UPDATE routes SET status = ?, end_time = ?, updated_at = datetime('now') WHERE id = ?`),
			status, endTime, id)
		return err
	}
	_, err = db.Exec(db.Q(`UPDATE routes SET status = ?, updated_at = datetime('now') WHERE id = ?`), status, id)
	return err
}

// DeleteRoute removes a route and its stop rows. The stops are deleted
// explicitly rather than relying on the cascade, which sqlite only honors
// when the foreign_keys pragma is active.
func (db *DB) DeleteRoute(id string) error {
	if _, err := db.Exec(db.Q(`DELETE FROM route_stops WHERE route_id = ?`), id); err != nil {
		return err
	}
	_, err := db.Exec(db.Q(`DELETE FROM routes WHERE id = ?`), id)
	return err
}
