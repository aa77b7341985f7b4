// Package wsensor receives pedometer readings pushed by the user's phone
// over a websocket and exposes them through the domain.StepSensor port.
package wsensor

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"fitledger/internal/domain"
)

// Hub keeps the latest step reading of each user and fans live readings
// out to subscribers.
type Hub struct {
	logger *log.Logger
	now    func() time.Time

	mu    sync.Mutex
	feeds map[string]*feed
}

type feed struct {
	devices int
	steps   int
	at      time.Time
	nextSub uint64
	subs    map[uint64]*subscriber
}

type subscriber struct {
	start int
	fn    func(int)
}

// NewHub creates an empty hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(os.Stderr, "[wsensor] ", log.LstdFlags)
	}
	return &Hub{logger: logger, now: time.Now, feeds: make(map[string]*feed)}
}

func (h *Hub) feed(userID string) *feed {
	f, ok := h.feeds[userID]
	if !ok {
		f = &feed{subs: make(map[uint64]*subscriber)}
		h.feeds[userID] = f
	}
	return f
}

// Report records the device's step count for today and notifies the
// user's subscribers. A count lower than the previous one means the device
// counter was reset, so every subscription restarts from zero.
func (h *Hub) Report(userID string, stepsToday int) {
	if stepsToday < 0 {
		return
	}
	h.mu.Lock()
	f := h.feed(userID)
	if stepsToday < f.steps {
		for _, s := range f.subs {
			s.start = 0
		}
	}
	f.steps = stepsToday
	f.at = h.now()

	type delivery struct {
		fn    func(int)
		steps int
	}
	out := make([]delivery, 0, len(f.subs))
	for _, s := range f.subs {
		out = append(out, delivery{fn: s.fn, steps: stepsToday - s.start})
	}
	h.mu.Unlock()

	for _, d := range out {
		d.fn(d.steps)
	}
}

// Connected returns the number of devices streaming for userID.
func (h *Hub) Connected(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if f, ok := h.feeds[userID]; ok {
		return f.devices
	}
	return 0
}

func (h *Hub) attach(userID string) {
	h.mu.Lock()
	h.feed(userID).devices++
	h.mu.Unlock()
}

func (h *Hub) detach(userID string) {
	h.mu.Lock()
	if f, ok := h.feeds[userID]; ok && f.devices > 0 {
		f.devices--
	}
	h.mu.Unlock()
}

// SensorFor returns the StepSensor view of userID's feed.
func (h *Hub) SensorFor(userID string) domain.StepSensor {
	return &sensor{hub: h, userID: userID}
}

type sensor struct {
	hub    *Hub
	userID string
}

// IsAvailable is always true: a device may connect at any time after
// ingestion starts.
func (s *sensor) IsAvailable(ctx context.Context) bool {
	return true
}

// QueryStepsSince returns the last reported count if it was received after
// since, and 0 otherwise.
func (s *sensor) QueryStepsSince(ctx context.Context, since time.Time) (int, error) {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	f, ok := s.hub.feeds[s.userID]
	if !ok || f.at.Before(since) {
		return 0, nil
	}
	return f.steps, nil
}

func (s *sensor) Subscribe(ctx context.Context, fn func(int)) (domain.Unsubscribe, error) {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	f := s.hub.feed(s.userID)
	f.nextSub++
	id := f.nextSub
	f.subs[id] = &subscriber{start: f.steps, fn: fn}
	return func() {
		s.hub.mu.Lock()
		delete(f.subs, id)
		s.hub.mu.Unlock()
	}, nil
}
