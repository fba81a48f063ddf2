// Package notify fans cache change events out to live queries and to
// Server-Sent Events clients.
package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync/atomic"
	"time"
)

// Event types. A resync stands in for events a slow subscriber missed and
// affects every query.
const (
	TypePostsChanged     = "posts.changed"
	TypePostsInvalidated = "posts.invalidated"
	TypeCacheExternal    = "cache.external"
	TypeListUpdated      = "list.updated"
	TypeResync           = "resync"
)

// Event is a single change notification.
type Event struct {
	Type string `json:"type"`
	// PostIDs names the posts touched by a posts.changed event.
	PostIDs []string `json:"post_ids,omitempty"`
}

// Affects reports whether a live query for postID must re-run.
// Invalidations and external writes affect everything.
func (e Event) Affects(postID string) bool {
	switch e.Type {
	case TypePostsChanged:
		return slices.Contains(e.PostIDs, postID)
	case TypeListUpdated:
		return false
	}
	return true
}

// Broker manages subscribers and broadcasts events.
//
// A single event loop owns the subscriber set and the list throttle timestamp;
// public methods talk to it over channels.
type Broker struct {
	listMin time.Duration

	subscribeCh   chan chan Event
	unsubscribeCh chan chan Event
	publishCh     chan Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits at most one list.updated event per
// listThrottle.
func NewBroker(listThrottle time.Duration) *Broker {
	if listThrottle <= 0 {
		listThrottle = 2 * time.Second
	}

	b := &Broker{
		listMin:       listThrottle,
		subscribeCh:   make(chan chan Event),
		unsubscribeCh: make(chan chan Event),
		publishCh:     make(chan Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan Event]struct{})
	var lastList time.Time

	broadcast := func(event Event) {
		for ch := range clients {
			select {
			case ch <- event:
			default:
				// Subscriber is behind. Swap its oldest event for a resync
				// so the dropped event's queries still re-run.
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- Event{Type: TypeResync}:
				default:
				}
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)
			if event.Type == TypeListUpdated {
				continue
			}
			now := time.Now()
			if now.Sub(lastList) >= b.listMin {
				lastList = now
				broadcast(Event{Type: TypeListUpdated})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the event loop and closes all subscriber channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a subscriber and returns its channel.
func (b *Broker) Subscribe() chan Event {
	ch := make(chan Event, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(ch chan Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of subscribers.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all subscribers.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishChange announces writes to the given posts.
func (b *Broker) PublishChange(postIDs ...string) {
	if len(postIDs) == 0 {
		return
	}
	b.Publish(Event{Type: TypePostsChanged, PostIDs: postIDs})
}

// ServeHTTP streams events as Server-Sent Events (GET /events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(encodeSSE(ev))
			flusher.Flush()
		}
	}
}

func encodeSSE(ev Event) []byte {
	payload, err := json.Marshal(ev)
	if err != nil {
		payload = []byte("{}")
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Type, payload))
}
