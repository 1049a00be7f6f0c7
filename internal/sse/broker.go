// Package sse implements a Server-Sent Events broker that pushes cache
// changes, notifications and redirects to gateway clients.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/paperlens/internal/query"
)

// Event types sent to clients.
const (
	TypeToast    = "toast"
	TypeRedirect = "redirect"
	TypeRefresh  = "refresh"
)

// Event is one message pushed to every gateway client.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Toast is the payload of a toast event.
type Toast struct {
	Kind   string `json:"kind"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

// Broker fans gateway events out to the open /api/events streams.
//
// Only the run goroutine touches the client set and the time of the last
// refresh; every exported method hands its request to it over a channel.
type Broker struct {
	refreshMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	cacheCh       chan query.Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker. refreshThrottle bounds how often a refresh
// event follows cache changes.
func NewBroker(refreshThrottle time.Duration) *Broker {
	if refreshThrottle <= 0 {
		refreshThrottle = 2 * time.Second
	}

	b := &Broker{
		refreshMin:    refreshThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		cacheCh:       make(chan query.Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var lastRefresh time.Time

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload))
		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Full buffer: this client misses the message.
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

		case ev := <-b.cacheCh:
			broadcast(Event{Type: "cache." + string(ev.Type), Data: map[string]any{"key": ev.Key}})
			if ev.Type == query.EventUpdated {
				continue
			}
			now := time.Now()
			if now.Sub(lastRefresh) >= b.refreshMin {
				lastRefresh = now
				broadcast(Event{Type: TypeRefresh, Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close ends every open stream and waits for run to exit. Safe to call twice.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe opens a stream. The channel is already closed when the broker is.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
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

// Unsubscribe drops a stream and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount reports how many streams are open; 0 after Close.
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

// Publish queues event for every open stream. A no-op after Close.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishCacheEvent forwards a cache change. Invalidations and removals
// are followed by a throttled refresh event.
func (b *Broker) PublishCacheEvent(ev query.Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.cacheCh <- ev:
	case <-b.stopped:
	}
}

func (b *Broker) toast(kind, title, detail string) {
	b.Publish(Event{Type: TypeToast, Data: Toast{Kind: kind, Title: title, Detail: detail}})
}

// Success, Error and Info make the broker a notifier for the paper service.
func (b *Broker) Success(title, detail string) { b.toast("success", title, detail) }
func (b *Broker) Error(title, detail string)   { b.toast("error", title, detail) }
func (b *Broker) Info(title, detail string)    { b.toast("info", title, detail) }

// Navigate tells clients to move to path, e.g. after the session expired.
func (b *Broker) Navigate(path string) {
	b.Publish(Event{Type: TypeRedirect, Data: map[string]string{"path": path}})
}

// ServeHTTP streams events to one client until it disconnects (GET /api/events).
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
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
