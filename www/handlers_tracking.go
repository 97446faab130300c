package www

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"lastmile/feed"
	"lastmile/snapshot"
	"lastmile/store"
)

type locationRequest struct {
	Lat        float64    `json:"lat"`
	Lng        float64    `json:"lng"`
	Heading    *float64   `json:"heading"`
	Speed      *float64   `json:"speed"`
	Accuracy   *float64   `json:"accuracy"`
	CapturedAt *time.Time `json:"captured_at"`
}

func (h *Handlers) apiPostLocation(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "routeID")
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	route, err := h.db.GetRoute(routeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if route == nil {
		writeError(w, http.StatusNotFound, "route not found")
		return
	}

	updatedAt := time.Now()
	if req.CapturedAt != nil {
		updatedAt = *req.CapturedAt
	}
	loc := &store.DriverLocation{
		RouteID:   routeID,
		Lat:       req.Lat,
		Lng:       req.Lng,
		Heading:   req.Heading,
		Speed:     req.Speed,
		Accuracy:  req.Accuracy,
		UpdatedAt: updatedAt,
	}
	if err := h.db.UpsertDriverLocation(loc); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.bus.Emit(feed.Event{
		Type:    feed.EventDriverLocation,
		RouteID: routeID,
		Payload: feed.DriverLocationEvent{
			Lat:       req.Lat,
			Lng:       req.Lng,
			Heading:   req.Heading,
			Speed:     req.Speed,
			Accuracy:  req.Accuracy,
			UpdatedAt: updatedAt,
		},
	})
	h.refreshSnapshot(r, routeID)
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiStopStatus(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "routeID")
	appointmentID := chi.URLParam(r, "appointmentID")
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.Status {
	case store.StopStatusPending, store.StopStatusArrived, store.StopStatusCompleted, store.StopStatusSkipped:
	default:
		writeError(w, http.StatusUnprocessableEntity, "unknown stop status: "+req.Status)
		return
	}

	if err := h.db.UpdateStopStatus(routeID, appointmentID, req.Status); err != nil {
		if errors.Is(err, store.ErrStopNotFound) {
			writeError(w, http.StatusNotFound, "stop not found on route")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	stops, err := h.db.ListStopsForRoute(routeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, s := range stops {
		if s.AppointmentID != appointmentID {
			continue
		}
		h.bus.Emit(feed.Event{
			Type:    feed.EventStopChanged,
			RouteID: routeID,
			Payload: feed.StopChangedEvent{
				AppointmentID: s.AppointmentID,
				Status:        s.Status,
				StopOrder:     s.StopOrder,
				ETA:           s.ETA,
				CompletedAt:   s.CompletedAt,
			},
		})
	}

	// Closing the last open stop, whether completed or skipped, completes the route.
	if req.Status == store.StopStatusCompleted || req.Status == store.StopStatusSkipped {
		open, err := h.db.CountOpenStops(routeID)
		if err == nil && open == 0 {
			if err := h.db.UpdateRouteStatus(routeID, store.RouteStatusCompleted); err != nil {
				if !errors.Is(err, store.ErrStatusTransition) {
					log.Printf("complete route=%s err=%v", routeID, err)
				}
			} else {
				h.emitRouteStatus(routeID, store.RouteStatusCompleted)
			}
		}
	}

	h.refreshSnapshot(r, routeID)
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiRouteEvents(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "routeID")
	h.hub.HandleSSE(w, r, routeID)
}

func (h *Handlers) apiRouteSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.snaps == nil {
		writeError(w, http.StatusNotFound, "snapshots disabled")
		return
	}
	routeID := chi.URLParam(r, "routeID")
	snap, err := h.snaps.Load(r.Context(), routeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if snap == nil {
		writeError(w, http.StatusNotFound, "no snapshot for route")
		return
	}
	writeJSON(w, snap)
}

func (h *Handlers) emitRouteStatus(routeID, status string) {
	h.bus.Emit(feed.Event{
		Type:    feed.EventRouteStatus,
		RouteID: routeID,
		Payload: feed.RouteStatusEvent{Status: status},
	})
}

// refreshSnapshot rebuilds the route's cached tracking snapshot from the
// store. Snapshot failures never fail the request; the live feed is the
// authoritative path.
func (h *Handlers) refreshSnapshot(r *http.Request, routeID string) {
	if h.snaps == nil {
		return
	}
	route, err := h.db.GetRoute(routeID)
	if err != nil || route == nil {
		return
	}
	stops, err := h.db.ListStopsForRoute(routeID)
	if err != nil {
		return
	}
	loc, err := h.db.GetDriverLocation(routeID)
	if err != nil {
		return
	}
	snap := &snapshot.Snapshot{
		RouteID:        routeID,
		RouteStatus:    route.Status,
		DriverLocation: loc,
		Stops:          stops,
	}
	if err := h.snaps.Save(r.Context(), snap); err != nil {
		log.Printf("snapshot save route=%s err=%v", routeID, err)
	}
}
