package trackfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"lastmile/cache"
	"lastmile/feed"
)

func testCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.Open(filepath.Join(t.TempDir(), "track.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestEventReader(t *testing.T) {
	stream := strings.Join([]string{
		": keepalive comment",
		"event: connected",
		"data: {}",
		"",
		"id: ev-1",
		"event: stop-change",
		"data: line one",
		"data: line two",
		"",
		"data:no-space-value",
		"",
	}, "\n")

	r := NewEventReader(strings.NewReader(stream))

	ev, err := r.Next()
	if err != nil {
		t.Fatalf("first event: %v", err)
	}
	if ev.Event != "connected" || ev.Data != "{}" {
		t.Fatalf("unexpected first event: %+v", ev)
	}

	ev, err = r.Next()
	if err != nil {
		t.Fatalf("second event: %v", err)
	}
	if ev.ID != "ev-1" || ev.Event != "stop-change" {
		t.Fatalf("unexpected second event: %+v", ev)
	}
	if ev.Data != "line one\nline two" {
		t.Fatalf("multi-line data should join with newline: %q", ev.Data)
	}

	ev, err = r.Next()
	if err != nil {
		t.Fatalf("third event: %v", err)
	}
	if ev.Data != "no-space-value" {
		t.Fatalf("value without leading space: %q", ev.Data)
	}

	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestEventReaderDispatchesTrailingEventAtEOF(t *testing.T) {
	r := NewEventReader(strings.NewReader("event: stop-change\ndata: tail"))
	ev, err := r.Next()
	if err != nil {
		t.Fatalf("trailing event: %v", err)
	}
	if ev.Event != "stop-change" || ev.Data != "tail" {
		t.Fatalf("unexpected trailing event: %+v", ev)
	}
}

func stopEvent(t *testing.T, ev feed.StopChangedEvent) RawEvent {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return RawEvent{Event: string(feed.EventStopChanged), Data: string(data)}
}

func locEvent(t *testing.T, ev feed.DriverLocationEvent) RawEvent {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return RawEvent{Event: string(feed.EventDriverLocation), Data: string(data)}
}

func TestMergeStopAppendsUnknownAndMergesKnown(t *testing.T) {
	ch := NewChannel("route-1", "http://example.test", nil)

	eta := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	ch.apply(stopEvent(t, feed.StopChangedEvent{
		AppointmentID: "appt-1", Status: "pending", StopOrder: 1, ETA: &eta,
	}))
	ch.apply(stopEvent(t, feed.StopChangedEvent{
		AppointmentID: "appt-2", Status: "pending", StopOrder: 2,
	}))

	// Partial update: only status changes; order and ETA survive.
	ch.apply(stopEvent(t, feed.StopChangedEvent{AppointmentID: "appt-1", Status: "arrived"}))

	v := ch.View()
	if len(v.Stops) != 2 {
		t.Fatalf("expected 2 stops, got %d", len(v.Stops))
	}
	first := v.Stops[0]
	if first.AppointmentID != "appt-1" || first.Status != "arrived" {
		t.Fatalf("merge lost the status update: %+v", first)
	}
	if first.StopOrder != 1 {
		t.Fatalf("merge should keep prior stop order: %+v", first)
	}
	if first.ETA == nil || !first.ETA.Equal(eta) {
		t.Fatalf("merge should keep prior ETA: %+v", first)
	}
}

func TestViewSortsByStopOrder(t *testing.T) {
	ch := NewChannel("route-1", "http://example.test", nil)
	ch.apply(stopEvent(t, feed.StopChangedEvent{AppointmentID: "appt-3", Status: "pending", StopOrder: 3}))
	ch.apply(stopEvent(t, feed.StopChangedEvent{AppointmentID: "appt-1", Status: "pending", StopOrder: 1}))
	ch.apply(stopEvent(t, feed.StopChangedEvent{AppointmentID: "appt-2", Status: "pending", StopOrder: 2}))

	v := ch.View()
	for i, want := range []string{"appt-1", "appt-2", "appt-3"} {
		if v.Stops[i].AppointmentID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, v.Stops[i].AppointmentID)
		}
	}
}

func TestStaleLocationIgnored(t *testing.T) {
	ch := NewChannel("route-1", "http://example.test", nil)

	newer := time.Date(2026, 8, 29, 10, 5, 0, 0, time.UTC)
	older := newer.Add(-time.Minute)

	ch.apply(locEvent(t, feed.DriverLocationEvent{Lat: 34.06, Lng: -118.25, UpdatedAt: newer}))
	ch.apply(locEvent(t, feed.DriverLocationEvent{Lat: 34.05, Lng: -118.24, UpdatedAt: older}))

	v := ch.View()
	if v.DriverLocation == nil || v.DriverLocation.Lat != 34.06 {
		t.Fatalf("stale location should be ignored: %+v", v.DriverLocation)
	}
}

func TestCachedFallback(t *testing.T) {
	c := testCache(t)

	// A previous session wrote through, then disconnected.
	prev := NewChannel("route-1", "http://example.test", c)
	prev.apply(stopEvent(t, feed.StopChangedEvent{AppointmentID: "appt-1", Status: "completed", StopOrder: 1}))

	// A fresh mount with no live connection serves the cached view, non-live.
	ch := NewChannel("route-1", "http://example.test", c)
	v := ch.View()
	if v.Live {
		t.Fatal("cached fallback must not claim to be live")
	}
	if len(v.Stops) != 1 || v.Stops[0].AppointmentID != "appt-1" {
		t.Fatalf("cached stops missing: %+v", v.Stops)
	}
	if v.LastCachedAt.IsZero() {
		t.Fatal("cached view should carry its write time")
	}
}

func TestCachedFallbackExpires(t *testing.T) {
	c := testCache(t)

	stale := View{RouteID: "route-1", Stops: []StopState{{AppointmentID: "appt-1", Status: "pending", StopOrder: 1}}}
	data, _ := json.Marshal(stale)
	// Already-expired entry stands in for a snapshot older than the TTL.
	if err := c.Put(snapshotKey("route-1"), data, -time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}

	ch := NewChannel("route-1", "http://example.test", c)
	v := ch.View()
	if len(v.Stops) != 0 {
		t.Fatalf("expired snapshot must not be served: %+v", v.Stops)
	}
}

// containsSeq reports whether want appears in have as a subsequence.
func containsSeq(have []ConnState, want ...ConnState) bool {
	i := 0
	for _, s := range have {
		if i < len(want) && s == want[i] {
			i++
		}
	}
	return i == len(want)
}

func TestChannelReconnectsAfterStreamClose(t *testing.T) {
	ev := stopEvent(t, feed.StopChangedEvent{AppointmentID: "appt-1", Status: "pending", StopOrder: 1})
	// Each connection delivers one event, then the handler returns and the
	// stream drops.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Event, ev.Data)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var states []ConnState
	ch := NewChannel("route-1", srv.URL, nil)
	ch.OnState = func(s ConnState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}

	ch.Start(context.Background())
	defer ch.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		seen := append([]ConnState(nil), states...)
		mu.Unlock()
		if containsSeq(seen, StateConnecting, StateConnected, StateReconnecting) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected connecting, connected, then reconnecting, got %v", seen)
		}
		time.Sleep(10 * time.Millisecond)
	}

	v := ch.View()
	if len(v.Stops) != 1 || v.Stops[0].AppointmentID != "appt-1" {
		t.Fatalf("event from the stream should be merged, got %+v", v.Stops)
	}
}

func TestCacheScopedPerRoute(t *testing.T) {
	c := testCache(t)
	prev := NewChannel("route-1", "http://example.test", c)
	prev.apply(stopEvent(t, feed.StopChangedEvent{AppointmentID: "appt-1", Status: "pending", StopOrder: 1}))

	other := NewChannel("route-2", "http://example.test", c)
	v := other.View()
	if len(v.Stops) != 0 {
		t.Fatalf("another route's snapshot leaked: %+v", v.Stops)
	}
}
