package www

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"lastmile/board"
	"lastmile/routebuild"
	"lastmile/routing"
	"lastmile/store"
)

type buildRouteRequest struct {
	WeekOf    string                 `json:"week_of"`
	Name      string                 `json:"name"`
	Optimize  bool                   `json:"optimize"`
	DriverID  *string                `json:"driver_id"`
	StartTime *time.Time             `json:"start_time"`
	StopOrder []board.StopOrderEntry `json:"stop_order"`
}

func (h *Handlers) apiBuildRoute(w http.ResponseWriter, r *http.Request) {
	var req buildRouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WeekOf == "" {
		writeError(w, http.StatusUnprocessableEntity, "week_of is required")
		return
	}

	result, err := h.builder.Build(r.Context(), routebuild.BuildRequest{
		WeekOf:    req.WeekOf,
		Name:      req.Name,
		Optimize:  req.Optimize,
		DriverID:  req.DriverID,
		StartTime: req.StartTime,
		StopOrder: req.StopOrder,
	})
	if err != nil {
		var pe *routing.ProviderError
		switch {
		case routebuild.IsValidation(err):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.As(err, &pe):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, map[string]any{
		"route":            result.Route,
		"ordered_stop_ids": result.OrderedStopIDs,
	})
}

func (h *Handlers) apiListRoutes(w http.ResponseWriter, r *http.Request) {
	weekOf := chi.URLParam(r, "weekOf")
	routes, err := h.db.ListRoutesForWeek(weekOf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if routes == nil {
		routes = []store.Route{}
	}
	writeJSON(w, map[string]any{"routes": routes})
}

func (h *Handlers) apiListAppointments(w http.ResponseWriter, r *http.Request) {
	weekOf := chi.URLParam(r, "weekOf")
	appts, err := h.db.ListAppointmentsForWeek(weekOf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if appts == nil {
		appts = []store.Appointment{}
	}
	writeJSON(w, map[string]any{"appointments": appts})
}

func (h *Handlers) apiGetRoute(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "routeID")
	route, err := h.db.GetRoute(routeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if route == nil {
		writeError(w, http.StatusNotFound, "route not found")
		return
	}
	stops, err := h.db.ListStopsForRoute(routeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if stops == nil {
		stops = []store.RouteStop{}
	}
	writeJSON(w, map[string]any{"route": route, "stops": stops})
}

func (h *Handlers) apiRouteStatus(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "routeID")
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.db.UpdateRouteStatus(routeID, req.Status); err != nil {
		if errors.Is(err, store.ErrStatusTransition) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.emitRouteStatus(routeID, req.Status)
	h.refreshSnapshot(r, routeID)
	writeJSON(w, map[string]string{"status": "ok"})
}
