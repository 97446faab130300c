package www

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"lastmile/config"
	"lastmile/feed"
	"lastmile/routebuild"
	"lastmile/routing"
	"lastmile/store"
	"lastmile/trackfeed"
)

type testServer struct {
	srv    *httptest.Server
	client *http.Client
	db     *store.DB
	bus    *feed.Bus
	mock   *routing.MockProvider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	}
	db, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mock := &routing.MockProvider{}
	builder := routebuild.NewService(db, routing.NewOptimizer(mock), "Depot")
	bus := feed.NewBus()

	router, stop := NewRouter(&config.WebConfig{}, db, builder, bus, nil)
	t.Cleanup(stop)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	jar, _ := cookiejar.New(nil)
	return &testServer{
		srv:    srv,
		client: &http.Client{Jar: jar},
		db:     db,
		bus:    bus,
		mock:   mock,
	}
}

func (ts *testServer) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := ts.client.Post(ts.srv.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (ts *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := ts.client.Get(ts.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func (ts *testServer) login(t *testing.T) {
	t.Helper()
	if err := ts.db.CreateOperator("dispatch", "secret"); err != nil {
		t.Fatalf("create operator: %v", err)
	}
	resp := ts.post(t, "/api/login", map[string]string{"username": "dispatch", "password": "secret"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d", resp.StatusCode)
	}
}

func (ts *testServer) seedWeek(t *testing.T, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("appt-%d", i+1)
		if err := ts.db.InsertAppointment(&store.Appointment{
			ID:      ids[i],
			WeekOf:  "2026-08-29",
			Address: fmt.Sprintf("%d Main St", i+1),
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return ids
}

func stopOrder(ids []string) []map[string]any {
	out := make([]map[string]any, len(ids))
	for i, id := range ids {
		out[i] = map[string]any{"appointment_id": id, "order": i + 1}
	}
	return out
}

// eventRecorder captures bus events emitted from handler goroutines.
type eventRecorder struct {
	mu     sync.Mutex
	events []feed.Event
}

func (r *eventRecorder) record(e feed.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) snapshot() []feed.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]feed.Event(nil), r.events...)
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.get(t, "/health")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: status %d", resp.StatusCode)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ts := newTestServer(t)
	ts.db.CreateOperator("dispatch", "secret")

	resp := ts.post(t, "/api/login", map[string]string{"username": "dispatch", "password": "wrong"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestBuildRouteRequiresOperator(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.post(t, "/api/routes", map[string]any{"week_of": "2026-08-29"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without session, got %d", resp.StatusCode)
	}
}

func TestBuildRouteHappyPath(t *testing.T) {
	ts := newTestServer(t)
	ts.login(t)
	ids := ts.seedWeek(t, 2)

	resp := ts.post(t, "/api/routes", map[string]any{
		"week_of":    "2026-08-29",
		"stop_order": stopOrder(ids),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("build: status %d", resp.StatusCode)
	}
	var body struct {
		Route          store.Route `json:"route"`
		OrderedStopIDs []string    `json:"ordered_stop_ids"`
	}
	decodeBody(t, resp, &body)
	if body.Route.Status != store.RouteStatusBuilt {
		t.Fatalf("expected built route, got %s", body.Route.Status)
	}
	if len(body.OrderedStopIDs) != 2 {
		t.Fatalf("expected 2 ordered stops, got %v", body.OrderedStopIDs)
	}

	// The route shows up in the week listing and in detail.
	resp = ts.get(t, "/api/weeks/2026-08-29/routes")
	var list struct {
		Routes []store.Route `json:"routes"`
	}
	decodeBody(t, resp, &list)
	if len(list.Routes) != 1 {
		t.Fatalf("expected 1 route in week, got %d", len(list.Routes))
	}

	resp = ts.get(t, "/api/routes/"+body.Route.ID)
	var detail struct {
		Stops []store.RouteStop `json:"stops"`
	}
	decodeBody(t, resp, &detail)
	if len(detail.Stops) != 2 {
		t.Fatalf("expected 2 stops in detail, got %d", len(detail.Stops))
	}
}

func TestBuildRouteValidation(t *testing.T) {
	ts := newTestServer(t)
	ts.login(t)

	resp := ts.post(t, "/api/routes", map[string]any{
		"week_of":    "",
		"stop_order": []map[string]any{{"appointment_id": "a", "order": 1}},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("missing week_of should be 422, got %d", resp.StatusCode)
	}

	resp = ts.post(t, "/api/routes", map[string]any{
		"week_of": "2026-08-29",
		"stop_order": []map[string]any{
			{"appointment_id": "a", "order": 1},
			{"appointment_id": "b", "order": 3},
		},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("sparse order should be 422, got %d", resp.StatusCode)
	}
}

func TestBuildRouteProviderFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.login(t)
	ids := ts.seedWeek(t, 2)
	ts.mock.Err = fmt.Errorf("upstream down")

	resp := ts.post(t, "/api/routes", map[string]any{
		"week_of":    "2026-08-29",
		"stop_order": stopOrder(ids),
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("provider failure should be 502, got %d", resp.StatusCode)
	}
}

func TestPostLocationUnknownRoute(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.post(t, "/api/routes/ghost/location", map[string]any{"lat": 34.05, "lng": -118.24})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestPostLocationPersistsAndEmits(t *testing.T) {
	ts := newTestServer(t)
	ts.db.InsertRoute(&store.Route{ID: "r1", WeekOf: "2026-08-29", Name: "A", Status: store.RouteStatusActive})

	rec := &eventRecorder{}
	ts.bus.Subscribe(rec.record)

	captured := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	resp := ts.post(t, "/api/routes/r1/location", map[string]any{
		"lat": 34.05, "lng": -118.24, "captured_at": captured.Format(time.RFC3339),
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post location: status %d", resp.StatusCode)
	}

	loc, err := ts.db.GetDriverLocation("r1")
	if err != nil || loc == nil {
		t.Fatalf("location not persisted: %v", err)
	}
	if !loc.UpdatedAt.Equal(captured) {
		t.Fatalf("captured_at should drive updated_at, got %v", loc.UpdatedAt)
	}
	events := rec.snapshot()
	if len(events) != 1 || events[0].Type != feed.EventDriverLocation || events[0].RouteID != "r1" {
		t.Fatalf("expected one driver-location event, got %+v", events)
	}
}

func TestStopStatusCompletesRoute(t *testing.T) {
	ts := newTestServer(t)
	ts.db.InsertRoute(&store.Route{ID: "r1", WeekOf: "2026-08-29", Name: "A", Status: store.RouteStatusActive})
	ts.seedWeek(t, 2)
	ts.db.InsertRouteStop(&store.RouteStop{RouteID: "r1", AppointmentID: "appt-1", StopOrder: 1, Status: store.StopStatusPending})
	ts.db.InsertRouteStop(&store.RouteStop{RouteID: "r1", AppointmentID: "appt-2", StopOrder: 2, Status: store.StopStatusSkipped})

	rec := &eventRecorder{}
	ts.bus.Subscribe(rec.record)

	resp := ts.post(t, "/api/routes/r1/stops/appt-1/status", map[string]string{"status": "completed"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status: %d", resp.StatusCode)
	}

	route, _ := ts.db.GetRoute("r1")
	if route.Status != store.RouteStatusCompleted {
		t.Fatalf("last open stop should complete the route, got %s", route.Status)
	}
	seen := map[feed.EventType]bool{}
	for _, e := range rec.snapshot() {
		seen[e.Type] = true
	}
	if !seen[feed.EventStopChanged] || !seen[feed.EventRouteStatus] {
		t.Fatalf("expected stop-change and route-status events, got %v", seen)
	}
}

func TestStopStatusSkipCompletesRoute(t *testing.T) {
	ts := newTestServer(t)
	ts.db.InsertRoute(&store.Route{ID: "r1", WeekOf: "2026-08-29", Name: "A", Status: store.RouteStatusActive})
	ts.seedWeek(t, 2)
	ts.db.InsertRouteStop(&store.RouteStop{RouteID: "r1", AppointmentID: "appt-1", StopOrder: 1, Status: store.StopStatusPending})
	ts.db.InsertRouteStop(&store.RouteStop{RouteID: "r1", AppointmentID: "appt-2", StopOrder: 2, Status: store.StopStatusPending})

	resp := ts.post(t, "/api/routes/r1/stops/appt-1/status", map[string]string{"status": "completed"})
	resp.Body.Close()
	resp = ts.post(t, "/api/routes/r1/stops/appt-2/status", map[string]string{"status": "skipped"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("skip stop: %d", resp.StatusCode)
	}

	route, _ := ts.db.GetRoute("r1")
	if route.Status != store.RouteStatusCompleted {
		t.Fatalf("skipping the last open stop should complete the route, got %s", route.Status)
	}
}

func TestStopStatusUnknownStop(t *testing.T) {
	ts := newTestServer(t)
	ts.db.InsertRoute(&store.Route{ID: "r1", WeekOf: "2026-08-29", Name: "A", Status: store.RouteStatusActive})

	rec := &eventRecorder{}
	ts.bus.Subscribe(rec.record)

	resp := ts.post(t, "/api/routes/r1/stops/ghost/status", map[string]string{"status": "completed"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown stop should be 404, got %d", resp.StatusCode)
	}
	if events := rec.snapshot(); len(events) != 0 {
		t.Fatalf("no events expected for an unknown stop, got %+v", events)
	}
}

func TestStopStatusRejectsUnknownValue(t *testing.T) {
	ts := newTestServer(t)
	ts.db.InsertRoute(&store.Route{ID: "r1", WeekOf: "2026-08-29", Name: "A", Status: store.RouteStatusActive})

	resp := ts.post(t, "/api/routes/r1/stops/appt-1/status", map[string]string{"status": "teleported"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unknown status should be 422, got %d", resp.StatusCode)
	}
}

func TestRouteStatusRejectsBackTransition(t *testing.T) {
	ts := newTestServer(t)
	ts.db.InsertRoute(&store.Route{ID: "r1", WeekOf: "2026-08-29", Name: "A", Status: store.RouteStatusCompleted})

	resp := ts.post(t, "/api/routes/r1/status", map[string]string{"status": "active"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("back-transition should be 422, got %d", resp.StatusCode)
	}
}

func TestSSEStreamDeliversRouteEvents(t *testing.T) {
	ts := newTestServer(t)
	ts.db.InsertRoute(&store.Route{ID: "r1", WeekOf: "2026-08-29", Name: "A", Status: store.RouteStatusActive})

	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/api/routes/r1/events", nil)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	reader := trackfeed.NewEventReader(resp.Body)
	first, err := reader.Next()
	if err != nil {
		t.Fatalf("read connected event: %v", err)
	}
	if first.Event != "connected" {
		t.Fatalf("expected connected preamble, got %+v", first)
	}

	// An event for another route must not reach this stream.
	ts.bus.Emit(feed.Event{Type: feed.EventRouteStatus, RouteID: "other", Payload: feed.RouteStatusEvent{Status: "active"}})
	ts.bus.Emit(feed.Event{Type: feed.EventRouteStatus, RouteID: "r1", Payload: feed.RouteStatusEvent{Status: "active"}})

	ev, err := reader.Next()
	if err != nil {
		t.Fatalf("read route event: %v", err)
	}
	if ev.Event != string(feed.EventRouteStatus) {
		t.Fatalf("expected route-status, got %+v", ev)
	}
	var payload feed.RouteStatusEvent
	if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Status != "active" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if ev.ID == "" {
		t.Fatal("feed events should carry an event ID")
	}
}
