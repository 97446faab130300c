package routebuild

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lastmile/board"
	"lastmile/config"
	"lastmile/routing"
	"lastmile/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	}
	db, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedAppointments(t *testing.T, db *store.DB, weekOf string, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("appt-%d", i+1)
		ids[i] = id
		if err := db.InsertAppointment(&store.Appointment{
			ID:           id,
			WeekOf:       weekOf,
			CustomerName: fmt.Sprintf("Customer %d", i+1),
			Address:      fmt.Sprintf("%d Main St", i+1),
		}); err != nil {
			t.Fatalf("seed appointment: %v", err)
		}
	}
	return ids
}

func orderEntries(ids ...string) []board.StopOrderEntry {
	out := make([]board.StopOrderEntry, len(ids))
	for i, id := range ids {
		out[i] = board.StopOrderEntry{AppointmentID: id, Order: i + 1}
	}
	return out
}

func newTestService(db *store.DB, mock *routing.MockProvider) *Service {
	return NewService(db, routing.NewOptimizer(mock), "Depot, 1 Warehouse Rd")
}

func TestBuildValidatesStopOrder(t *testing.T) {
	db := testDB(t)
	svc := newTestService(db, &routing.MockProvider{})

	cases := []struct {
		name    string
		entries []board.StopOrderEntry
		wantMsg string
	}{
		{"empty", nil, "stop order is empty"},
		{"gap", []board.StopOrderEntry{
			{AppointmentID: "a", Order: 1}, {AppointmentID: "b", Order: 3},
		}, "must be 1..2"},
		{"zero based", []board.StopOrderEntry{
			{AppointmentID: "a", Order: 0}, {AppointmentID: "b", Order: 1},
		}, "must be 1..2"},
		{"duplicate order", []board.StopOrderEntry{
			{AppointmentID: "a", Order: 1}, {AppointmentID: "b", Order: 1},
		}, "duplicate stop order value 1"},
		{"duplicate appointment", []board.StopOrderEntry{
			{AppointmentID: "a", Order: 1}, {AppointmentID: "a", Order: 2},
		}, "duplicate appointment a"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Build(context.Background(), BuildRequest{WeekOf: "2026-08-29", StopOrder: tc.entries})
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !strings.Contains(ve.Msg, tc.wantMsg) {
				t.Fatalf("expected message containing %q, got %q", tc.wantMsg, ve.Msg)
			}
		})
	}
}

func TestBuildAcceptsUnsortedDenseOrder(t *testing.T) {
	db := testDB(t)
	ids := seedAppointments(t, db, "2026-08-29", 3)
	svc := newTestService(db, &routing.MockProvider{})

	// Entries submitted out of order but dense.
	entries := []board.StopOrderEntry{
		{AppointmentID: ids[2], Order: 3},
		{AppointmentID: ids[0], Order: 1},
		{AppointmentID: ids[1], Order: 2},
	}
	res, err := svc.Build(context.Background(), BuildRequest{WeekOf: "2026-08-29", StopOrder: entries})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := []string{ids[0], ids[1], ids[2]}
	for i, id := range want {
		if res.OrderedStopIDs[i] != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, res.OrderedStopIDs[i])
		}
	}
}

func TestBuildNameCollision(t *testing.T) {
	db := testDB(t)
	ids := seedAppointments(t, db, "2026-08-29", 1)
	svc := newTestService(db, &routing.MockProvider{})

	names := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		res, err := svc.Build(context.Background(), BuildRequest{
			WeekOf:    "2026-08-29",
			StopOrder: orderEntries(ids[0]),
		})
		if err != nil {
			t.Fatalf("build %d: %v", i, err)
		}
		names = append(names, res.Route.Name)
	}

	want := []string{"Weekend Route", "Weekend Route (2)", "Weekend Route (3)"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected names %v, got %v", want, names)
		}
	}
}

func TestBuildNameCollisionScopedToWeek(t *testing.T) {
	db := testDB(t)
	a := seedAppointments(t, db, "2026-08-29", 1)
	if err := db.InsertAppointment(&store.Appointment{ID: "next-1", WeekOf: "2026-09-05", Address: "9 Elm St"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := newTestService(db, &routing.MockProvider{})

	first, err := svc.Build(context.Background(), BuildRequest{WeekOf: "2026-08-29", Name: "Saturday AM", StopOrder: orderEntries(a[0])})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	second, err := svc.Build(context.Background(), BuildRequest{WeekOf: "2026-09-05", Name: "Saturday AM", StopOrder: orderEntries("next-1")})
	if err != nil {
		t.Fatalf("build next week: %v", err)
	}
	if first.Route.Name != "Saturday AM" || second.Route.Name != "Saturday AM" {
		t.Fatalf("same name should be allowed across weeks: %q / %q", first.Route.Name, second.Route.Name)
	}
}

func TestBuildPicksFasterOfOptimizedAndSubmitted(t *testing.T) {
	db := testDB(t)
	ids := seedAppointments(t, db, "2026-08-29", 3)
	mock := &routing.MockProvider{
		Responses: map[bool]*routing.DirectionsResponse{
			true: {
				Legs:          []routing.Leg{{DurationSeconds: 400}, {DurationSeconds: 350}, {DurationSeconds: 200}},
				WaypointOrder: []int{1, 0},
			},
			false: {
				Legs: []routing.Leg{{DurationSeconds: 300}, {DurationSeconds: 300}, {DurationSeconds: 300}},
			},
		},
	}
	svc := newTestService(db, mock)

	res, err := svc.Build(context.Background(), BuildRequest{
		WeekOf:    "2026-08-29",
		Optimize:  true,
		StopOrder: orderEntries(ids...),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	// Submitted order totals 900s; optimized totals 950s. Submitted wins.
	if res.Route.DurationSeconds != 900 {
		t.Fatalf("expected the 900s run to win, got %d", res.Route.DurationSeconds)
	}
	for i, id := range ids {
		if res.OrderedStopIDs[i] != id {
			t.Fatalf("expected submitted order preserved, got %v", res.OrderedStopIDs)
		}
	}
	if len(mock.Requests) != 2 {
		t.Fatalf("expected both runs, got %d provider calls", len(mock.Requests))
	}
}

func TestBuildKeepsOptimizedWhenFaster(t *testing.T) {
	db := testDB(t)
	ids := seedAppointments(t, db, "2026-08-29", 3)
	mock := &routing.MockProvider{
		Responses: map[bool]*routing.DirectionsResponse{
			true: {
				Legs:          []routing.Leg{{DurationSeconds: 200}, {DurationSeconds: 200}, {DurationSeconds: 200}},
				WaypointOrder: []int{1, 0},
			},
			false: {
				Legs: []routing.Leg{{DurationSeconds: 300}, {DurationSeconds: 300}, {DurationSeconds: 300}},
			},
		},
	}
	svc := newTestService(db, mock)

	res, err := svc.Build(context.Background(), BuildRequest{
		WeekOf:    "2026-08-29",
		Optimize:  true,
		StopOrder: orderEntries(ids...),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if res.Route.DurationSeconds != 600 {
		t.Fatalf("expected optimized 600s to win, got %d", res.Route.DurationSeconds)
	}
	want := []string{ids[1], ids[0], ids[2]}
	for i, id := range want {
		if res.OrderedStopIDs[i] != id {
			t.Fatalf("expected optimized order %v, got %v", want, res.OrderedStopIDs)
		}
	}
}

func TestBuildSingleWaypointSkipsComparisonRun(t *testing.T) {
	db := testDB(t)
	ids := seedAppointments(t, db, "2026-08-29", 2)
	mock := &routing.MockProvider{
		Responses: map[bool]*routing.DirectionsResponse{
			true: {Legs: []routing.Leg{{DurationSeconds: 100}, {DurationSeconds: 100}}},
		},
	}
	svc := newTestService(db, mock)

	if _, err := svc.Build(context.Background(), BuildRequest{
		WeekOf:    "2026-08-29",
		Optimize:  true,
		StopOrder: orderEntries(ids...),
	}); err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(mock.Requests) != 1 {
		t.Fatalf("one waypoint needs no comparison run, got %d calls", len(mock.Requests))
	}
}

func TestBuildPropagatesETAs(t *testing.T) {
	db := testDB(t)
	ids := seedAppointments(t, db, "2026-08-29", 2)
	mock := &routing.MockProvider{
		Responses: map[bool]*routing.DirectionsResponse{
			false: {Legs: []routing.Leg{{DurationSeconds: 600}, {DurationSeconds: 900}}},
		},
	}
	svc := newTestService(db, mock)
	base := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	res, err := svc.Build(context.Background(), BuildRequest{
		WeekOf:    "2026-08-29",
		StopOrder: orderEntries(ids...),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	stops, err := db.ListStopsForRoute(res.Route.ID)
	if err != nil {
		t.Fatalf("list stops: %v", err)
	}
	if len(stops) != 2 {
		t.Fatalf("expected 2 stops, got %d", len(stops))
	}
	if stops[0].ETA == nil || !stops[0].ETA.Equal(base.Add(10*time.Minute)) {
		t.Fatalf("first ETA should be 09:10, got %v", stops[0].ETA)
	}
	if stops[1].ETA == nil || !stops[1].ETA.Equal(base.Add(25*time.Minute)) {
		t.Fatalf("second ETA should be 09:25, got %v", stops[1].ETA)
	}
}

func TestBuildRollsBackOnUnknownAppointment(t *testing.T) {
	db := testDB(t)
	ids := seedAppointments(t, db, "2026-08-29", 1)
	svc := newTestService(db, &routing.MockProvider{})

	_, err := svc.Build(context.Background(), BuildRequest{
		WeekOf: "2026-08-29",
		StopOrder: []board.StopOrderEntry{
			{AppointmentID: ids[0], Order: 1},
			{AppointmentID: "ghost", Order: 2},
		},
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation failure, got %v", err)
	}

	routes, err := db.ListRoutesForWeek("2026-08-29")
	if err != nil {
		t.Fatalf("list routes: %v", err)
	}
	if len(routes) != 0 {
		t.Fatalf("rollback should leave no route rows, found %d", len(routes))
	}
}

func TestBuildRollsBackOnProviderFailure(t *testing.T) {
	db := testDB(t)
	ids := seedAppointments(t, db, "2026-08-29", 2)
	mock := &routing.MockProvider{Err: errors.New("upstream down")}
	svc := newTestService(db, mock)

	_, err := svc.Build(context.Background(), BuildRequest{
		WeekOf:    "2026-08-29",
		StopOrder: orderEntries(ids...),
	})
	var pe *routing.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	routes, _ := db.ListRoutesForWeek("2026-08-29")
	if len(routes) != 0 {
		t.Fatalf("rollback should remove the pending route, found %d", len(routes))
	}
}

func TestBuildUnroutedWhenNoAddresses(t *testing.T) {
	db := testDB(t)
	for i := 0; i < 2; i++ {
		if err := db.InsertAppointment(&store.Appointment{
			ID:     fmt.Sprintf("bare-%d", i+1),
			WeekOf: "2026-08-29",
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	mock := &routing.MockProvider{}
	svc := newTestService(db, mock)

	res, err := svc.Build(context.Background(), BuildRequest{
		WeekOf:    "2026-08-29",
		Optimize:  true,
		StopOrder: orderEntries("bare-1", "bare-2"),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(mock.Requests) != 0 {
		t.Fatal("address-less build must not call the provider")
	}
	if res.Route.Status != store.RouteStatusBuilt {
		t.Fatalf("expected built status, got %s", res.Route.Status)
	}
	if res.Route.DistanceMeters != 0 || res.Route.Polyline != "" {
		t.Fatalf("unrouted build should carry no path metrics: %+v", res.Route)
	}

	stops, err := db.ListStopsForRoute(res.Route.ID)
	if err != nil {
		t.Fatalf("list stops: %v", err)
	}
	for _, s := range stops {
		if s.ETA != nil {
			t.Fatalf("unrouted stop should have no ETA: %+v", s)
		}
	}
	if stops[0].AppointmentID != "bare-1" || stops[1].AppointmentID != "bare-2" {
		t.Fatal("unrouted build should preserve submitted order")
	}
}
