package tracker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ReplaySource plays back samples from a JSON-lines file, one object per
// line in the Sample wire shape. It stands in for a GPS daemon during
// development and simulation runs.
type ReplaySource struct {
	path     string
	interval time.Duration
}

// NewReplaySource creates a source replaying path at the given interval.
func NewReplaySource(path string, interval time.Duration) *ReplaySource {
	if interval <= 0 {
		interval = time.Second
	}
	return &ReplaySource{path: path, interval: interval}
}

// Watch implements PositionSource.
func (r *ReplaySource) Watch(ctx context.Context) (<-chan Sample, <-chan error) {
	samples := make(chan Sample)
	errs := make(chan error, 1)

	go func() {
		defer close(samples)
		defer close(errs)

		f, err := os.Open(r.path)
		if err != nil {
			errs <- fmt.Errorf("open replay file: %w", err)
			return
		}
		defer f.Close()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var s Sample
			if err := json.Unmarshal(line, &s); err != nil {
				errs <- fmt.Errorf("decode replay sample: %w", err)
				continue
			}
			if s.CapturedAt.IsZero() {
				s.CapturedAt = time.Now()
			}
			select {
			case <-ctx.Done():
				return
			case samples <- s:
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- err
		}
	}()

	return samples, errs
}

// Current implements PositionSource by reading the first sample of the file.
func (r *ReplaySource) Current(_ context.Context) (Sample, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return Sample{}, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var s Sample
		if err := json.Unmarshal(line, &s); err != nil {
			return Sample{}, fmt.Errorf("decode replay sample: %w", err)
		}
		if s.CapturedAt.IsZero() {
			s.CapturedAt = time.Now()
		}
		return s, nil
	}
	return Sample{}, fmt.Errorf("replay file %s has no samples", r.path)
}
