package docstore

import (
	"context"
	"sync"
)

// Hub fans document snapshots out to subscribers. Each subscriber has its own delivery
// goroutine and a single-slot mailbox, so a slow subscriber only ever sees the latest state
// and never blocks a writer.
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]*subscription
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[uint64]*subscription)}
}

type subscription struct {
	fn   func(Snapshot)
	mu   sync.Mutex
	next *Snapshot
	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func (s *subscription) offer(snap Snapshot) {
	s.mu.Lock()
	s.next = &snap
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		snap := s.next
		s.next = nil
		s.mu.Unlock()
		if snap == nil {
			continue
		}

		select {
		case <-s.done:
			return
		default:
		}
		s.fn(Snapshot{Path: snap.Path, Data: Clone(snap.Data)})
	}
}

// Subscribe registers fn for path and queues initial as its first delivery. Callers must hold
// whatever lock orders initial against concurrent Publish calls for the same path.
func (h *Hub) Subscribe(ctx context.Context, path string, initial Snapshot, fn func(Snapshot)) (func(), error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.nextID++
	id := h.nextID
	sub := &subscription{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	if h.subs[path] == nil {
		h.subs[path] = make(map[uint64]*subscription)
	}
	h.subs[path][id] = sub
	h.mu.Unlock()

	sub.offer(initial)
	go sub.run()

	unsubscribe := func() {
		h.mu.Lock()
		if subs, ok := h.subs[path]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(h.subs, path)
			}
		}
		h.mu.Unlock()
		sub.stop()
	}

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				unsubscribe()
			case <-sub.done:
			}
		}()
	}
	return unsubscribe, nil
}

// Publish queues snap for every subscriber of snap.Path.
func (h *Hub) Publish(snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs[snap.Path] {
		sub.offer(snap)
	}
}

// Subscribers returns the number of live subscriptions on path.
func (h *Hub) Subscribers(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[path])
}

// Close stops every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for path, subs := range h.subs {
		for _, sub := range subs {
			sub.stop()
		}
		delete(h.subs, path)
	}
}
