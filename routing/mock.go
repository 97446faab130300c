package routing

import "context"

// MockProvider returns canned responses and records requests for tests.
type MockProvider struct {
	Responses map[bool]*DirectionsResponse // keyed by OptimizeWaypoints
	Err       error
	Requests  []DirectionsRequest
}

// Directions implements Provider.
func (m *MockProvider) Directions(_ context.Context, req DirectionsRequest) (*DirectionsResponse, error) {
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, &ProviderError{Err: m.Err}
	}
	if resp, ok := m.Responses[req.OptimizeWaypoints]; ok {
		return resp, nil
	}
	// Default: one zero-metric leg per segment, input order preserved.
	legs := make([]Leg, len(req.Waypoints)+1)
	return &DirectionsResponse{Legs: legs}, nil
}
