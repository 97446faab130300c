package store

import (
	"database/sql"
	"errors"
	"time"
)

// DriverLocation is the last known driver position for a route.
type DriverLocation struct {
	RouteID   string    `json:"route_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Heading   *float64  `json:"heading"`
	Speed     *float64  `json:"speed"`
	Accuracy  *float64  `json:"accuracy"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpsertDriverLocation records the latest driver position, one row per route.
func (db *DB) UpsertDriverLocation(l *DriverLocation) error {
	_, err := db.Exec(db.Q(`INSERT INTO driver_locations (route_id, lat, lng, heading, speed, accuracy, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (route_id) DO UPDATE SET
			lat = excluded.lat, lng = excluded.lng, heading = excluded.heading,
			speed = excluded.speed, accuracy = excluded.accuracy, updated_at = excluded.updated_at`),
		l.RouteID, l.Lat, l.Lng, ptrVal(l.Heading), ptrVal(l.Speed), ptrVal(l.Accuracy), fmtTime(l.UpdatedAt))
	return err
}

// GetDriverLocation returns the last known driver position, or nil when none exists.
func (db *DB) GetDriverLocation(routeID string) (*DriverLocation, error) {
	row := db.QueryRow(db.Q(`SELECT route_id, lat, lng, heading, speed, accuracy, updated_at
		FROM driver_locations WHERE route_id = ?`), routeID)
	var l DriverLocation
	var heading, speed, accuracy, updatedAt any
	err := row.Scan(&l.RouteID, &l.Lat, &l.Lng, &heading, &speed, &accuracy, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.Heading = scanFloatPtr(heading)
	l.Speed = scanFloatPtr(speed)
	l.Accuracy = scanFloatPtr(accuracy)
	if t := scanTimePtr(updatedAt); t != nil {
		l.UpdatedAt = *t
	}
	return &l, nil
}

func ptrVal(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func scanFloatPtr(v any) *float64 {
	switch f := v.(type) {
	case float64:
		return &f
	case int64:
		fv := float64(f)
		return &fv
	}
	return nil
}
