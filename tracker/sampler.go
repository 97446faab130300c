package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"lastmile/cache"
)

// Options tune the sampler heuristics. Zero values fall back to defaults.
type Options struct {
	MoveThresholdM    float64       // movement below this distance is jitter
	SpeedThresholdKmh float64       // instantaneous speed above this counts as movement
	PauseAfter        time.Duration // no movement for this long suppresses transmission
	SendInterval      time.Duration // minimum gap between transmissions
	QueueLimit        int           // queued updates beyond this evict oldest
}

func (o *Options) fill() {
	if o.MoveThresholdM <= 0 {
		o.MoveThresholdM = 12
	}
	if o.SpeedThresholdKmh <= 0 {
		o.SpeedThresholdKmh = 1
	}
	if o.PauseAfter <= 0 {
		o.PauseAfter = 5 * time.Minute
	}
	if o.SendInterval <= 0 {
		o.SendInterval = 10 * time.Second
	}
	if o.QueueLimit <= 0 {
		o.QueueLimit = 500
	}
}

// Sampler watches a PositionSource for one route and pushes location updates.
type Sampler struct {
	routeID string
	source  PositionSource
	tx      Transmitter
	queue   *cache.Cache
	opts    Options

	// online reports device connectivity; swapped in tests and by the agent.
	online func() bool
	// now is swappable for deterministic heuristics tests.
	now func() time.Time

	mu           sync.Mutex
	status       Status
	lastPosition *Sample
	lastMoveAt   time.Time
	lastSentAt   time.Time
	wasOnline    bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSampler creates a sampler for routeID. queue may not be nil; updates
// that cannot be transmitted are held there until a flush succeeds.
func NewSampler(routeID string, source PositionSource, tx Transmitter, queue *cache.Cache, opts Options) *Sampler {
	opts.fill()
	return &Sampler{
		routeID: routeID,
		source:  source,
		tx:      tx,
		queue:   queue,
		opts:    opts,
		online:  func() bool { return true },
		now:     time.Now,
		status:  StatusIdle,
	}
}

// SetOnlineProbe replaces the connectivity check.
func (s *Sampler) SetOnlineProbe(fn func() bool) { s.online = fn }

// Status returns the current sampler state.
func (s *Sampler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Sampler) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *Sampler) queueNamespace() string {
	return "driver_updates_" + s.routeID
}

// Start begins watching the position source. It returns immediately; samples
// are handled on a background goroutine until Stop.
func (s *Sampler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.mu.Lock()
	s.status = StatusTracking
	s.lastMoveAt = s.now()
	s.wasOnline = s.online()
	s.mu.Unlock()

	samples, errs := s.source.Watch(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errs:
				if !ok {
					return
				}
				if errors.Is(err, ErrPermissionDenied) {
					log.Printf("tracker route=%s position permission denied", s.routeID)
					s.setStatus(StatusDenied)
					return
				}
				log.Printf("tracker route=%s position source err=%v", s.routeID, err)
				s.setStatus(StatusError)
			case sample, ok := <-samples:
				if !ok {
					return
				}
				s.handleSample(ctx, sample)
			}
		}
	}()
}

// Stop halts the position watch and attempts a best-effort flush of queued
// updates without blocking on the network beyond a short deadline.
func (s *Sampler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.setStatus(StatusIdle)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		log.Printf("tracker route=%s final flush err=%v", s.routeID, err)
	}
}

// handleSample applies the movement/pause heuristic and transmits or queues.
func (s *Sampler) handleSample(ctx context.Context, sample Sample) {
	now := s.now()

	s.mu.Lock()
	moved := false
	if s.lastPosition == nil {
		moved = true
	} else {
		d := haversineM(s.lastPosition.Lat, s.lastPosition.Lng, sample.Lat, sample.Lng)
		if d > s.opts.MoveThresholdM {
			moved = true
		}
	}
	if sample.SpeedKmh != nil && *sample.SpeedKmh > s.opts.SpeedThresholdKmh {
		moved = true
	}

	cp := sample
	s.lastPosition = &cp

	if moved {
		s.lastMoveAt = now
		if s.status == StatusPaused {
			s.status = StatusTracking
		}
	} else if now.Sub(s.lastMoveAt) > s.opts.PauseAfter && s.status == StatusTracking {
		s.status = StatusPaused
	}

	paused := s.status == StatusPaused
	throttled := !s.lastSentAt.IsZero() && now.Sub(s.lastSentAt) < s.opts.SendInterval
	s.mu.Unlock()

	if paused || throttled {
		return
	}

	wasOnline := s.swapOnline()
	update := Update{RouteID: s.routeID, Sample: sample}

	if !s.onlineNow() {
		s.enqueue(update)
		return
	}

	// Connectivity came back: drain the backlog before the fresh sample.
	if !wasOnline {
		if err := s.Flush(ctx); err != nil {
			log.Printf("tracker route=%s reconnect flush err=%v", s.routeID, err)
		}
	}

	if err := s.tx.Send(ctx, update); err != nil {
		log.Printf("tracker route=%s send failed, queuing: %v", s.routeID, err)
		s.enqueue(update)
		return
	}
	s.mu.Lock()
	s.lastSentAt = now
	s.mu.Unlock()
}

func (s *Sampler) onlineNow() bool { return s.online() }

// swapOnline records the current connectivity and returns the previous value.
func (s *Sampler) swapOnline() bool {
	cur := s.online()
	s.mu.Lock()
	prev := s.wasOnline
	s.wasOnline = cur
	s.mu.Unlock()
	return prev
}

func (s *Sampler) enqueue(u Update) {
	data, err := json.Marshal(u)
	if err != nil {
		return
	}
	if err := s.queue.Enqueue(s.queueNamespace(), data, s.opts.QueueLimit); err != nil {
		log.Printf("tracker route=%s enqueue err=%v", s.routeID, err)
	}
}

// Flush sends queued updates in FIFO order. Each attempt is independent; the
// first failure stops the flush and leaves the remaining queue intact.
func (s *Sampler) Flush(ctx context.Context) error {
	for {
		items, err := s.queue.Peek(s.queueNamespace(), 50)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		for _, item := range items {
			var u Update
			if err := json.Unmarshal(item.Payload, &u); err != nil {
				// Unreadable entry: drop it so the queue keeps moving.
				s.queue.Ack(item.ID)
				continue
			}
			if err := s.tx.Send(ctx, u); err != nil {
				return err
			}
			if err := s.queue.Ack(item.ID); err != nil {
				return err
			}
		}
	}
}

// RequestManualUpdate takes a single reading and sends it immediately.
// This is the degraded path after a permission denial.
func (s *Sampler) RequestManualUpdate(ctx context.Context) error {
	sample, err := s.source.Current(ctx)
	if err != nil {
		return err
	}
	update := Update{RouteID: s.routeID, Sample: sample}
	if err := s.tx.Send(ctx, update); err != nil {
		s.enqueue(update)
		return err
	}
	return nil
}
