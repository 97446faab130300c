package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPTransmitter posts updates to the server's location ingestion API.
type HTTPTransmitter struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransmitter creates a transmitter for the given server base URL.
func NewHTTPTransmitter(baseURL string) *HTTPTransmitter {
	return &HTTPTransmitter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Send implements Transmitter.
func (t *HTTPTransmitter) Send(ctx context.Context, u Update) error {
	body, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	url := fmt.Sprintf("%s/api/routes/%s/location", t.baseURL, u.RouteID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("location post returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

// Ping reports whether the server is reachable; the agent uses it as the
// sampler's connectivity probe.
func (t *HTTPTransmitter) Ping() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
