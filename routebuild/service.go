// Package routebuild turns a submitted stop sequence into a persisted route:
// it validates the order payload, resolves a unique route name for the week,
// runs the directions optimizer, propagates per-stop ETAs, and persists the
// result with compensating rollback on failure.
package routebuild

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"lastmile/board"
	"lastmile/routing"
	"lastmile/store"
)

// ValidationError reports a rejected build request (HTTP 422).
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// PersistenceError reports a datastore failure after route computation
// succeeded (HTTP 500). Partial describes state left behind when the
// compensating rollback itself failed.
type PersistenceError struct {
	Op      string
	Partial string
	Err     error
}

func (e *PersistenceError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("persist %s: %v (partial state: %s)", e.Op, e.Err, e.Partial)
	}
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// BuildRequest carries the build-route API payload.
type BuildRequest struct {
	WeekOf    string
	Name      string
	Optimize  bool
	DriverID  *string
	StartTime *time.Time
	StopOrder []board.StopOrderEntry
}

// BuildResult is the outcome of a successful build.
type BuildResult struct {
	Route          *store.Route
	OrderedStopIDs []string
}

// Service orchestrates route construction.
type Service struct {
	db        *store.DB
	optimizer *routing.Optimizer
	origin    string

	// now is swappable for deterministic ETA tests.
	now func() time.Time
}

// NewService creates a Service. origin is the depot address all routes start from.
func NewService(db *store.DB, optimizer *routing.Optimizer, origin string) *Service {
	return &Service{db: db, optimizer: optimizer, origin: origin, now: time.Now}
}

// Build validates and persists a route for the given week.
func (s *Service) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	entries, err := validateStopOrder(req.StopOrder)
	if err != nil {
		return nil, err
	}

	name, err := s.resolveName(req.WeekOf, req.Name)
	if err != nil {
		return nil, &PersistenceError{Op: "resolve name", Err: err}
	}

	route := &store.Route{
		ID:        uuid.NewString(),
		WeekOf:    req.WeekOf,
		Name:      name,
		Status:    store.RouteStatusPending,
		DriverID:  req.DriverID,
		StartTime: req.StartTime,
	}
	if err := s.db.InsertRoute(route); err != nil {
		return nil, &PersistenceError{Op: "insert route", Err: err}
	}

	appts, err := s.db.AppointmentsByID(req.WeekOf)
	if err != nil {
		return nil, s.rollback(route.ID, &PersistenceError{Op: "load appointments", Err: err})
	}
	var missing []string
	for _, e := range entries {
		if _, ok := appts[e.AppointmentID]; !ok {
			missing = append(missing, e.AppointmentID)
		}
	}
	if len(missing) > 0 {
		return nil, s.rollback(route.ID, &ValidationError{Msg: fmt.Sprintf(
			"%d appointment(s) not found for week %s", len(missing), req.WeekOf)})
	}

	stops := make([]routing.Stop, len(entries))
	addressable := 0
	for i, e := range entries {
		a := appts[e.AppointmentID]
		stops[i] = routing.Stop{AppointmentID: a.ID, Address: a.Address}
		if a.Address != "" {
			addressable++
		}
	}

	if addressable == 0 {
		return s.persistUnrouted(route, stops)
	}

	result, err := s.computeRoute(ctx, stops, req.Optimize)
	if err != nil {
		return nil, s.rollback(route.ID, err)
	}
	return s.persistRouted(route, result)
}

// computeRoute runs the optimizer; when optimization is requested and there
// is more than one waypoint it also runs the unoptimized sequence and keeps
// whichever run travels less. The provider's optimizer occasionally returns
// a worse order for small waypoint sets.
func (s *Service) computeRoute(ctx context.Context, stops []routing.Stop, optimize bool) (*routing.Result, error) {
	if !optimize {
		return s.optimizer.Sequence(ctx, s.origin, stops)
	}

	optimized, err := s.optimizer.Optimize(ctx, s.origin, stops)
	if err != nil {
		return nil, err
	}
	if len(stops) <= 2 {
		// With a single waypoint both runs are identical.
		return optimized, nil
	}

	sequenced, err := s.optimizer.Sequence(ctx, s.origin, stops)
	if err != nil {
		return nil, err
	}
	if sequenced.TotalDurationSeconds < optimized.TotalDurationSeconds {
		log.Printf("route build: unoptimized order wins dur=%ds vs optimized=%ds",
			sequenced.TotalDurationSeconds, optimized.TotalDurationSeconds)
		return sequenced, nil
	}
	return optimized, nil
}

// persistRouted writes stop rows with cumulative-leg ETAs and marks the route built.
func (s *Service) persistRouted(route *store.Route, result *routing.Result) (*BuildResult, error) {
	now := s.now()
	var cumulative int64
	orderedIDs := make([]string, 0, len(result.OrderedStops))

	for i, stop := range result.OrderedStops {
		if i < len(result.Legs) {
			cumulative += result.Legs[i].DurationSeconds
		}
		eta := now.Add(time.Duration(cumulative) * time.Second)
		rec := &store.RouteStop{
			RouteID:       route.ID,
			AppointmentID: stop.AppointmentID,
			StopOrder:     i + 1,
			Status:        store.StopStatusPending,
			ETA:           &eta,
		}
		if err := s.db.InsertRouteStop(rec); err != nil {
			return nil, s.rollback(route.ID, &PersistenceError{Op: "insert stop", Err: err})
		}
		orderedIDs = append(orderedIDs, stop.AppointmentID)
	}

	if err := s.db.MarkRouteBuilt(route.ID, result.Polyline, result.TotalDistanceMeters, result.TotalDurationSeconds); err != nil {
		return nil, s.rollback(route.ID, &PersistenceError{Op: "update route", Err: err})
	}

	built, err := s.db.GetRoute(route.ID)
	if err != nil || built == nil {
		return nil, &PersistenceError{Op: "reload route", Err: err}
	}
	return &BuildResult{Route: built, OrderedStopIDs: orderedIDs}, nil
}

// persistUnrouted writes stops in submitted order with no ETA and marks the
// route built without a path. Used when no stop has a resolvable address.
func (s *Service) persistUnrouted(route *store.Route, stops []routing.Stop) (*BuildResult, error) {
	orderedIDs := make([]string, 0, len(stops))
	for i, stop := range stops {
		rec := &store.RouteStop{
			RouteID:       route.ID,
			AppointmentID: stop.AppointmentID,
			StopOrder:     i + 1,
			Status:        store.StopStatusPending,
		}
		if err := s.db.InsertRouteStop(rec); err != nil {
			return nil, s.rollback(route.ID, &PersistenceError{Op: "insert stop", Err: err})
		}
		orderedIDs = append(orderedIDs, stop.AppointmentID)
	}
	if err := s.db.MarkRouteBuilt(route.ID, "", 0, 0); err != nil {
		return nil, s.rollback(route.ID, &PersistenceError{Op: "update route", Err: err})
	}
	built, err := s.db.GetRoute(route.ID)
	if err != nil || built == nil {
		return nil, &PersistenceError{Op: "reload route", Err: err}
	}
	return &BuildResult{Route: built, OrderedStopIDs: orderedIDs}, nil
}

// rollback removes the route row and any stop rows written so far, then
// returns cause. A failed rollback is folded into the persistence error so
// the caller sees what was left behind.
func (s *Service) rollback(routeID string, cause error) error {
	if err := s.db.DeleteStopsForRoute(routeID); err != nil {
		log.Printf("route build rollback: delete stops route=%s err=%v", routeID, err)
		return &PersistenceError{Op: "rollback", Partial: "route and stop rows remain", Err: cause}
	}
	if err := s.db.DeleteRoute(routeID); err != nil {
		log.Printf("route build rollback: delete route=%s err=%v", routeID, err)
		return &PersistenceError{Op: "rollback", Partial: "route row remains", Err: cause}
	}
	return cause
}

// resolveName returns candidate, or candidate " (N)" with the smallest N >= 2
// that is unused for the week.
func (s *Service) resolveName(weekOf, candidate string) (string, error) {
	if candidate == "" {
		candidate = "Weekend Route"
	}
	used, err := s.db.RouteNamesForWeek(weekOf)
	if err != nil {
		return "", err
	}
	if !used[candidate] {
		return candidate, nil
	}
	for n := 2; ; n++ {
		name := fmt.Sprintf("%s (%d)", candidate, n)
		if !used[name] {
			return name, nil
		}
	}
}

// validateStopOrder checks the submitted entries form a dense 1..N sequence
// with unique appointments, and returns them sorted by order.
func validateStopOrder(entries []board.StopOrderEntry) ([]board.StopOrderEntry, error) {
	if len(entries) == 0 {
		return nil, &ValidationError{Msg: "stop order is empty"}
	}
	sorted := make([]board.StopOrderEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	seenAppt := make(map[string]bool, len(sorted))
	for i, e := range sorted {
		if e.Order != i+1 {
			if i > 0 && e.Order == sorted[i-1].Order {
				return nil, &ValidationError{Msg: fmt.Sprintf("duplicate stop order value %d", e.Order)}
			}
			return nil, &ValidationError{Msg: fmt.Sprintf("stop order values must be 1..%d", len(sorted))}
		}
		if seenAppt[e.AppointmentID] {
			return nil, &ValidationError{Msg: fmt.Sprintf("duplicate appointment %s", e.AppointmentID)}
		}
		seenAppt[e.AppointmentID] = true
	}
	return sorted, nil
}

// IsValidation reports whether err is a validation failure from this package
// or from the routing layer.
func IsValidation(err error) bool {
	var ve *ValidationError
	var rve *routing.ValidationError
	return errors.As(err, &ve) || errors.As(err, &rve)
}
