package routing

import (
	"context"
	"fmt"
	"strings"
)

// MaxWaypoints is the provider's intermediate-waypoint cap; with the final
// destination that allows MaxWaypoints+1 stops per request.
const MaxWaypoints = 25

// Optimizer requests paths over stop sequences and reduces them to Results.
type Optimizer struct {
	provider Provider
}

// NewOptimizer creates an Optimizer over a directions provider.
func NewOptimizer(provider Provider) *Optimizer {
	return &Optimizer{provider: provider}
}

// Optimize computes a path visiting all stops from origin, letting the
// provider reorder intermediate waypoints for minimum travel time.
func (o *Optimizer) Optimize(ctx context.Context, origin string, stops []Stop) (*Result, error) {
	return o.run(ctx, origin, stops, true)
}

// Sequence computes a path visiting the stops exactly in the given order.
func (o *Optimizer) Sequence(ctx context.Context, origin string, stops []Stop) (*Result, error) {
	return o.run(ctx, origin, stops, false)
}

func (o *Optimizer) run(ctx context.Context, origin string, stops []Stop, optimize bool) (*Result, error) {
	if len(stops) == 0 {
		return &Result{OrderedStops: []Stop{}}, nil
	}

	missing := 0
	for _, s := range stops {
		if strings.TrimSpace(s.Address) == "" {
			missing++
		}
	}
	if missing > 0 {
		return nil, &ValidationError{Msg: fmt.Sprintf("%d stop(s) have no usable address", missing)}
	}

	if len(stops) > MaxWaypoints+1 {
		return nil, &ValidationError{Msg: fmt.Sprintf(
			"too many stops: %d exceeds the provider limit of %d waypoints plus destination (%d stops)",
			len(stops), MaxWaypoints, MaxWaypoints+1)}
	}

	// Last stop is the destination; everything before it is a waypoint.
	dest := stops[len(stops)-1]
	waypoints := stops[:len(stops)-1]
	addrs := make([]string, len(waypoints))
	for i, s := range waypoints {
		addrs[i] = s.Address
	}

	resp, err := o.provider.Directions(ctx, DirectionsRequest{
		Origin:            origin,
		Destination:       dest.Address,
		Waypoints:         addrs,
		OptimizeWaypoints: optimize,
	})
	if err != nil {
		return nil, err
	}

	ordered := applyWaypointOrder(waypoints, resp.WaypointOrder)
	ordered = append(ordered, dest)

	res := &Result{
		OrderedStops: ordered,
		Legs:         resp.Legs,
		Polyline:     resp.Polyline,
	}
	for _, leg := range resp.Legs {
		res.TotalDistanceMeters += leg.DistanceMeters
		res.TotalDurationSeconds += leg.DurationSeconds
	}
	return res, nil
}

// applyWaypointOrder permutes waypoints by the provider's returned order.
// An absent or malformed permutation preserves the input order.
func applyWaypointOrder(waypoints []Stop, order []int) []Stop {
	out := make([]Stop, 0, len(waypoints))
	if len(order) != len(waypoints) {
		return append(out, waypoints...)
	}
	seen := make(map[int]bool, len(order))
	for _, idx := range order {
		if idx < 0 || idx >= len(waypoints) || seen[idx] {
			out = out[:0]
			return append(out, waypoints...)
		}
		seen[idx] = true
	}
	for _, idx := range order {
		out = append(out, waypoints[idx])
	}
	return out
}
