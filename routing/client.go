package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"lastmile/config"
)

// HTTPProvider calls a Directions-style JSON API over HTTP.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	session *http.Client
}

// NewHTTPProvider creates a provider from config.
func NewHTTPProvider(cfg *config.DirectionsConfig) (*HTTPProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("directions api key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPProvider{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		session: &http.Client{Timeout: timeout},
	}, nil
}

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("code %d: %s", e.Code, e.Body)
}

// directionsResponse mirrors the provider's wire format.
type directionsResponse struct {
	Status string `json:"status"`
	Routes []struct {
		Legs []struct {
			Distance struct {
				Value int64 `json:"value"`
			} `json:"distance"`
			Duration struct {
				Value int64 `json:"value"`
			} `json:"duration"`
		} `json:"legs"`
		WaypointOrder    []int `json:"waypoint_order"`
		OverviewPolyline struct {
			Points string `json:"points"`
		} `json:"overview_polyline"`
	} `json:"routes"`
	ErrorMessage string `json:"error_message"`
}

// Directions requests a path and reduces it to the provider-neutral shape.
func (p *HTTPProvider) Directions(ctx context.Context, req DirectionsRequest) (*DirectionsResponse, error) {
	makeReq := func() (*http.Request, error) {
		hr, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		q := hr.URL.Query()
		q.Set("origin", req.Origin)
		q.Set("destination", req.Destination)
		if len(req.Waypoints) > 0 {
			wp := strings.Join(req.Waypoints, "|")
			if req.OptimizeWaypoints {
				wp = "optimize:true|" + wp
			}
			q.Set("waypoints", wp)
		}
		q.Set("key", p.apiKey)
		hr.URL.RawQuery = q.Encode()
		hr.Header.Set("Accept", "application/json")
		return hr, nil
	}

	resp, err := p.doWithRetry(ctx, makeReq)
	if err != nil {
		return nil, &ProviderError{Err: err}
	}
	defer resp.Body.Close()

	var decoded directionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &ProviderError{Err: fmt.Errorf("decode directions response: %w", err)}
	}

	if decoded.Status != "OK" || len(decoded.Routes) == 0 {
		msg := decoded.ErrorMessage
		if msg == "" {
			msg = decoded.Status
		}
		return nil, &ProviderError{Err: fmt.Errorf("no route: %s", msg)}
	}

	route := decoded.Routes[0]
	out := &DirectionsResponse{
		Legs:          make([]Leg, 0, len(route.Legs)),
		WaypointOrder: route.WaypointOrder,
		Polyline:      route.OverviewPolyline.Points,
	}
	for _, l := range route.Legs {
		out.Legs = append(out.Legs, Leg{
			DistanceMeters:  l.Distance.Value,
			DurationSeconds: l.Duration.Value,
		})
	}
	return out, nil
}

func (p *HTTPProvider) do(req *http.Request) (*http.Response, error) {
	resp, err := p.session.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &httpStatusError{
			Code: resp.StatusCode,
			Body: strings.TrimSpace(string(b)),
		}
	}
	return resp, nil
}

// doWithRetry retries transient failures (network errors, 429/5xx responses)
// using exponential backoff while respecting context cancellation.
func (p *HTTPProvider) doWithRetry(ctx context.Context, makeReq func() (*http.Request, error)) (*http.Response, error) {
	const maxAttempts = 4
	backoff := 200 * time.Millisecond

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := makeReq()
		if err != nil {
			return nil, fmt.Errorf("make request: %w", err)
		}

		resp, err := p.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		retry := false
		var he *httpStatusError
		if errors.As(err, &he) {
			switch he.Code {
			case 429, 500, 502, 503, 504:
				retry = true
			}
		}

		var netErr net.Error
		if !retry && errors.As(err, &netErr) {
			retry = true
		}

		if !retry || attempt == maxAttempts {
			return nil, lastErr
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
	}

	return nil, lastErr
}
