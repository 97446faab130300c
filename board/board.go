// Package board maintains the working split of delivery stops between the
// unassigned pool and a candidate route order. It is pure in-memory
// sequencing; nothing here touches persistence.
package board

import (
	"errors"
	"fmt"
)

// Collection names the two stop collections on a board.
type Collection string

const (
	Unassigned Collection = "unassigned"
	RouteList  Collection = "route"
)

// Stop is one delivery stop in a working session.
type Stop struct {
	ID           string `json:"id"`
	Address      string `json:"address"`
	HasAddress   bool   `json:"has_address"`
	CustomerName string `json:"customer_name"`
	Phone        string `json:"phone"`
	WindowLabel  string `json:"window_label"`
}

// StopOrderEntry is the wire contract for submitting a candidate sequence.
type StopOrderEntry struct {
	AppointmentID string `json:"appointment_id"`
	Order         int    `json:"order"`
}

// Summary is the cached optimization result for the current sequence.
// Any reorder invalidates it.
type Summary struct {
	DistanceMeters  int64  `json:"distance_meters"`
	DurationSeconds int64  `json:"duration_seconds"`
	Polyline        string `json:"polyline"`
}

// ErrNoAddress rejects moving an address-less stop into the route.
var ErrNoAddress = errors.New("stop has no usable address and cannot be routed")

// ErrUnknownStop is returned when the named stop is not in the source collection.
var ErrUnknownStop = errors.New("stop not found in collection")

// Board holds the two ordered stop collections.
type Board struct {
	unassigned []Stop
	route      []Stop
	summary    *Summary
}

// New creates a board with all stops unassigned.
func New(stops []Stop) *Board {
	b := &Board{unassigned: make([]Stop, len(stops))}
	copy(b.unassigned, stops)
	return b
}

// Unassigned returns the unassigned stops in order.
func (b *Board) Unassigned() []Stop { return append([]Stop(nil), b.unassigned...) }

// Route returns the candidate route stops in order.
func (b *Board) Route() []Stop { return append([]Stop(nil), b.route...) }

// Summary returns the cached optimization summary, or nil when the sequence
// changed since it was computed.
func (b *Board) Summary() *Summary { return b.summary }

// SetSummary caches an optimization result for the current sequence.
func (b *Board) SetSummary(s Summary) { b.summary = &s }

// MoveWithin reorders a stop inside one collection. targetIndex is clamped
// to the collection bounds.
func (b *Board) MoveWithin(col Collection, id string, targetIndex int) error {
	list := b.collection(col)
	if list == nil {
		return fmt.Errorf("unknown collection: %s", col)
	}
	from := indexOf(*list, id)
	if from < 0 {
		return fmt.Errorf("%w: %s in %s", ErrUnknownStop, id, col)
	}
	moved := splice(list, from)
	insert(list, moved, targetIndex)
	b.summary = nil
	return nil
}

// MoveBetween moves a stop from one collection into the other at targetIndex.
// Moving an address-less stop into the route is rejected without mutation.
func (b *Board) MoveBetween(id string, target Collection, targetIndex int) error {
	var src, dst *[]Stop
	switch target {
	case RouteList:
		src, dst = &b.unassigned, &b.route
	case Unassigned:
		src, dst = &b.route, &b.unassigned
	default:
		return fmt.Errorf("unknown collection: %s", target)
	}
	from := indexOf(*src, id)
	if from < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownStop, id)
	}
	if target == RouteList && !(*src)[from].HasAddress {
		return fmt.Errorf("%w: %s", ErrNoAddress, id)
	}
	moved := splice(src, from)
	insert(dst, moved, targetIndex)
	b.summary = nil
	return nil
}

// RoutePayload emits the candidate sequence as dense 1-based order entries.
func (b *Board) RoutePayload() []StopOrderEntry {
	out := make([]StopOrderEntry, len(b.route))
	for i, s := range b.route {
		out[i] = StopOrderEntry{AppointmentID: s.ID, Order: i + 1}
	}
	return out
}

func (b *Board) collection(col Collection) *[]Stop {
	switch col {
	case Unassigned:
		return &b.unassigned
	case RouteList:
		return &b.route
	}
	return nil
}

func indexOf(list []Stop, id string) int {
	for i, s := range list {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func splice(list *[]Stop, i int) Stop {
	s := (*list)[i]
	*list = append((*list)[:i], (*list)[i+1:]...)
	return s
}

func insert(list *[]Stop, s Stop, at int) {
	if at < 0 {
		at = 0
	}
	if at > len(*list) {
		at = len(*list)
	}
	*list = append(*list, Stop{})
	copy((*list)[at+1:], (*list)[at:])
	(*list)[at] = s
}
