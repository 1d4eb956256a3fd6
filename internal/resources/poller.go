package resources

import (
	"context"
	"log/slog"
	"reflect"
	"time"
)

const DefaultPollInterval = 5 * time.Second

// Poller repeatedly fetches a value for sources that cannot push changes. It delivers the first
// result and then every result that differs from the last one delivered. A failed fetch is
// logged and the last delivered value stands.
type Poller[T any] struct {
	interval time.Duration
	fetch    func(context.Context) (T, error)
	deliver  func(T)
}

func NewPoller[T any](interval time.Duration, fetch func(context.Context) (T, error), deliver func(T)) *Poller[T] {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller[T]{interval: interval, fetch: fetch, deliver: deliver}
}

// Run polls until ctx is cancelled and returns ctx.Err().
func (p *Poller[T]) Run(ctx context.Context) error {
	var last T
	delivered := false

	poll := func() {
		v, err := p.fetch(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("Poll failed, keeping previous result", "error", err)
			}
			return
		}
		if delivered && reflect.DeepEqual(v, last) {
			return
		}
		last = v
		delivered = true
		p.deliver(v)
	}

	poll()
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			poll()
		}
	}
}
