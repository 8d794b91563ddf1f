package eventlog

import (
	"context"
	"sync"

	"github.com/rzbill/mediaflo/internal/streamlog"
)

// Hub fans pings out to in-process subscribers. Each subscriber has a
// one-slot wake channel, so bursts of pings coalesce into one.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*hubSub]struct{}
	taps   map[int]func(channel string)
	nextID int
	closed bool
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*hubSub]struct{}), taps: make(map[int]func(string))}
}

type hubSub struct {
	hub     *Hub
	channel string
	ch      chan struct{}
	once    sync.Once
}

func (s *hubSub) C() <-chan struct{} { return s.ch }

func (s *hubSub) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if set := s.hub.subs[s.channel]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(s.hub.subs, s.channel)
			}
		}
		s.hub.mu.Unlock()
	})
	return nil
}

// Publish wakes every subscriber of channel and calls registered taps.
func (h *Hub) Publish(_ context.Context, channel string) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return streamlog.ErrClosed
	}
	for s := range h.subs[channel] {
		select {
		case s.ch <- struct{}{}:
		default:
		}
	}
	taps := make([]func(string), 0, len(h.taps))
	for _, fn := range h.taps {
		taps = append(taps, fn)
	}
	h.mu.Unlock()

	for _, fn := range taps {
		fn(channel)
	}
	return nil
}

// Subscribe registers interest in channel until the subscription is closed.
func (h *Hub) Subscribe(_ context.Context, channel string) (streamlog.Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, streamlog.ErrClosed
	}
	s := &hubSub{hub: h, channel: channel, ch: make(chan struct{}, 1)}
	set := h.subs[channel]
	if set == nil {
		set = make(map[*hubSub]struct{})
		h.subs[channel] = set
	}
	set[s] = struct{}{}
	return s, nil
}

// Tap registers fn to observe every published channel name, letting
// protocol gateways forward pings to remote subscribers. The returned
// function unregisters it.
func (h *Hub) Tap(fn func(channel string)) (cancel func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.taps[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.taps, id)
		h.mu.Unlock()
	}
}

// Close drops all subscribers and fails later publishes.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.subs = make(map[string]map[*hubSub]struct{})
	h.taps = make(map[int]func(string))
	h.mu.Unlock()
}
