package engine

import (
	"sync"

	"github.com/donaldgifford/price-watch/internal/metrics"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

const defaultFeedBuffer = 64

// Feed broadcasts new change events to in-process subscribers such as the
// SSE endpoint. A subscriber that falls behind loses events instead of
// stalling the pipeline.
type Feed struct {
	mu     sync.RWMutex
	subs   map[int]chan domain.ChangeEvent
	nextID int
	closed bool
}

// NewFeed creates an empty Feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan domain.ChangeEvent)}
}

// Subscribe registers a subscriber with the given channel buffer. The
// returned cancel func unsubscribes and closes the channel.
func (f *Feed) Subscribe(buffer int) (<-chan domain.ChangeEvent, func()) {
	if buffer <= 0 {
		buffer = defaultFeedBuffer
	}
	ch := make(chan domain.ChangeEvent, buffer)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if c, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers e to every subscriber without blocking.
func (f *Feed) Publish(e domain.ChangeEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs {
		select {
		case ch <- e:
		default:
			metrics.FeedDroppedTotal.Inc()
		}
	}
}

// Subscribers returns the current subscriber count.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Close closes every subscriber channel and rejects new subscriptions.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
