// Package trackfeed runs on the customer device: it subscribes to a route's
// real-time change feed, merges stop and driver-location events into a local
// view, and falls back to the cached snapshot while disconnected.
package trackfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"lastmile/cache"
	"lastmile/feed"
)

// ConnState is the subscription connection state.
type ConnState string

const (
	StateIdle         ConnState = "idle"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateError        ConnState = "error"
)

// StopState is the merged view of one stop.
type StopState struct {
	AppointmentID string     `json:"appointment_id"`
	Status        string     `json:"status"`
	StopOrder     int        `json:"stop_order"`
	ETA           *time.Time `json:"eta,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// View is what the rendering layer consumes. Live is false when the data
// came from the offline cache rather than the feed.
type View struct {
	RouteID        string                    `json:"route_id"`
	Live           bool                      `json:"live"`
	Stops          []StopState               `json:"stops"`
	DriverLocation *feed.DriverLocationEvent `json:"driver_location,omitempty"`
	LastCachedAt   time.Time                 `json:"last_cached_at"`
}

// SnapshotTTL bounds how long a cached view is served after its last update.
const SnapshotTTL = time.Hour

func snapshotKey(routeID string) string {
	return "tracking_cache_" + routeID
}

// Channel is a live subscription to one route's change feed.
type Channel struct {
	routeID string
	baseURL string
	client  *http.Client // no timeout; SSE connections are long-lived
	cache   *cache.Cache

	// OnState, when set, observes connection state transitions.
	OnState func(ConnState)
	// OnView, when set, observes every merged view change.
	OnView func(View)

	mu    sync.Mutex
	state ConnState
	stops map[string]*StopState
	loc   *feed.DriverLocationEvent

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewChannel creates a channel for routeID against the server base URL.
// c may be nil when no offline fallback is wanted.
func NewChannel(routeID, baseURL string, c *cache.Cache) *Channel {
	return &Channel{
		routeID: routeID,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 0},
		cache:   c,
		state:   StateIdle,
		stops:   make(map[string]*StopState),
	}
}

// State returns the current connection state.
func (ch *Channel) State() ConnState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *Channel) setState(s ConnState) {
	ch.mu.Lock()
	changed := ch.state != s
	ch.state = s
	ch.mu.Unlock()
	if changed && ch.OnState != nil {
		ch.OnState(s)
	}
}

// Start opens the subscription and keeps it alive until Close. Reconnection
// is handled internally with exponential backoff; the state machine reflects
// retry progress, it does not drive it.
func (ch *Channel) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	ch.cancel = cancel

	ch.wg.Add(1)
	go func() {
		defer ch.wg.Done()
		ch.run(ctx)
	}()
}

// Close unsubscribes and waits for the feed goroutine to exit.
func (ch *Channel) Close() {
	if ch.cancel != nil {
		ch.cancel()
	}
	ch.wg.Wait()
	ch.setState(StateIdle)
}

func (ch *Channel) run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	everConnected := false

	for {
		if ctx.Err() != nil {
			return
		}
		if everConnected {
			ch.setState(StateReconnecting)
		} else {
			ch.setState(StateConnecting)
		}

		err := ch.consume(ctx, &everConnected)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("trackfeed route=%s stream err=%v", ch.routeID, err)
			ch.setState(StateError)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

// consume opens one SSE connection and applies its events until it closes.
// A cleanly closed stream returns nil so the caller resubscribes without
// entering the error state.
func (ch *Channel) consume(ctx context.Context, everConnected *bool) error {
	url := fmt.Sprintf("%s/api/routes/%s/events", ch.baseURL, ch.routeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := ch.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed returned %d", resp.StatusCode)
	}

	ch.setState(StateConnected)
	*everConnected = true

	reader := NewEventReader(resp.Body)
	for {
		raw, err := reader.Next()
		if err != nil {
			// Stream closed; resubscribe.
			return nil
		}
		ch.apply(raw)
	}
}

// apply merges one wire event into the view and writes through to the cache.
func (ch *Channel) apply(raw RawEvent) {
	switch feed.EventType(raw.Event) {
	case feed.EventStopChanged:
		var ev feed.StopChangedEvent
		if err := json.Unmarshal([]byte(raw.Data), &ev); err != nil {
			return
		}
		ch.mergeStop(ev)
	case feed.EventDriverLocation:
		var ev feed.DriverLocationEvent
		if err := json.Unmarshal([]byte(raw.Data), &ev); err != nil {
			return
		}
		ch.mergeLocation(ev)
	default:
		return
	}

	ch.writeThrough()
	if ch.OnView != nil {
		ch.OnView(ch.View())
	}
}

// mergeStop appends unknown stops and shallow-merges known ones. No event is
// discarded for arriving out of order; the last applied value wins per field.
func (ch *Channel) mergeStop(ev feed.StopChangedEvent) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	existing, ok := ch.stops[ev.AppointmentID]
	if !ok {
		s := StopState{
			AppointmentID: ev.AppointmentID,
			Status:        ev.Status,
			StopOrder:     ev.StopOrder,
			ETA:           ev.ETA,
			CompletedAt:   ev.CompletedAt,
		}
		ch.stops[ev.AppointmentID] = &s
		return
	}
	if ev.Status != "" {
		existing.Status = ev.Status
	}
	if ev.StopOrder != 0 {
		existing.StopOrder = ev.StopOrder
	}
	if ev.ETA != nil {
		existing.ETA = ev.ETA
	}
	if ev.CompletedAt != nil {
		existing.CompletedAt = ev.CompletedAt
	}
}

// mergeLocation replaces the marker target unless the event is older than
// what is already displayed.
func (ch *Channel) mergeLocation(ev feed.DriverLocationEvent) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.loc != nil && ev.UpdatedAt.Before(ch.loc.UpdatedAt) {
		return
	}
	ch.loc = &ev
}

// View returns the current merged view. When no live connection has been
// established it falls back to the cached snapshot, labeled non-live.
func (ch *Channel) View() View {
	ch.mu.Lock()
	state := ch.state
	live := state == StateConnected
	stops := make([]StopState, 0, len(ch.stops))
	for _, s := range ch.stops {
		stops = append(stops, *s)
	}
	loc := ch.loc
	ch.mu.Unlock()

	if !live && len(stops) == 0 && loc == nil {
		if cached, ok := ch.loadCached(); ok {
			return cached
		}
	}

	sort.Slice(stops, func(i, j int) bool {
		if stops[i].StopOrder != stops[j].StopOrder {
			return stops[i].StopOrder < stops[j].StopOrder
		}
		return stops[i].AppointmentID < stops[j].AppointmentID
	})
	return View{
		RouteID:        ch.routeID,
		Live:           live,
		Stops:          stops,
		DriverLocation: loc,
	}
}

// writeThrough caches the current view so a later mount has a seed snapshot.
func (ch *Channel) writeThrough() {
	if ch.cache == nil {
		return
	}
	v := ch.View()
	v.Live = false
	v.LastCachedAt = time.Now().UTC()
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := ch.cache.Put(snapshotKey(ch.routeID), data, SnapshotTTL); err != nil {
		log.Printf("trackfeed route=%s cache write err=%v", ch.routeID, err)
	}
}

func (ch *Channel) loadCached() (View, bool) {
	if ch.cache == nil {
		return View{}, false
	}
	data, err := ch.cache.Get(snapshotKey(ch.routeID))
	if err != nil {
		return View{}, false
	}
	var v View
	if err := json.Unmarshal(data, &v); err != nil {
		return View{}, false
	}
	v.Live = false
	return v, true
}
