// Package query is the client-side server-state cache: keyed entries with
// staleness, single-flight fetching, invalidation and an optimistic
// mutation protocol.
package query

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// EventType names a cache change.
type EventType string

const (
	EventUpdated     EventType = "updated"
	EventInvalidated EventType = "invalidated"
	EventRemoved     EventType = "removed"
	EventCanceled    EventType = "canceled"
)

// Event is delivered to subscribers after a cache change.
type Event struct {
	Type EventType `json:"type"`
	Key  Key       `json:"key"`
}

// Status is the lifecycle state of an entry.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// State describes an entry without exposing its data.
type State struct {
	Status      Status
	HasData     bool
	Invalidated bool
	Fetching    bool
	UpdatedAt   time.Time
	Err         error
}

type fetchFunc func(ctx context.Context) (any, error)

type entry struct {
	key         Key
	data        any
	hasData     bool
	err         error
	updatedAt   time.Time
	invalidated bool

	// gen changes whenever the entry is written or canceled from outside a
	// fetch; a fetch started under an older gen must not write.
	gen uint64
	// version counts writes of data; an optimistic rollback only restores
	// over its own write.
	version uint64
	// fetchSeq numbers fetches; writtenSeq is the newest one that wrote and
	// invalidSeq the newest one started before the last invalidation.
	fetchSeq   uint64
	writtenSeq uint64
	invalidSeq uint64
	inflight   map[uint64]context.CancelFunc

	refetch fetchFunc
	retry   int
}

func (e *entry) state() State {
	s := State{
		HasData:     e.hasData,
		Invalidated: e.invalidated,
		Fetching:    len(e.inflight) > 0,
		UpdatedAt:   e.updatedAt,
		Err:         e.err,
	}
	switch {
	case e.err != nil:
		s.Status = StatusError
	case e.hasData:
		s.Status = StatusSuccess
	case s.Fetching:
		s.Status = StatusPending
	default:
		s.Status = StatusIdle
	}
	return s
}

// Client is the cache. The zero value is not usable; call NewClient.
type Client struct {
	mu      sync.Mutex
	entries map[string]*entry
	group   singleflight.Group

	subMu  sync.Mutex
	subs   map[int]func(Event)
	nextID int

	logger              *slog.Logger
	metrics             *Metrics
	now                 func() time.Time
	retryDelay          time.Duration
	refetchOnInvalidate bool

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
	closed   bool
}

// Option configures optional Client parameters.
type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithClock replaces time.Now for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithRetryDelay sets the first retry interval; later ones back off exponentially.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// WithRefetchOnInvalidate makes invalidation refetch entries in the
// background using the last fetch function seen for each key.
func WithRefetchOnInvalidate(on bool) Option {
	return func(c *Client) { c.refetchOnInvalidate = on }
}

func NewClient(opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		entries:    make(map[string]*entry),
		subs:       make(map[int]func(Event)),
		logger:     slog.Default(),
		now:        time.Now,
		retryDelay: time.Second,
		bgCtx:      ctx,
		bgCancel:   cancel,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Close cancels in-flight fetches and waits for background refetches.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	for _, e := range c.entries {
		for _, cancel := range e.inflight {
			cancel()
		}
	}
	c.mu.Unlock()
	c.bgCancel()
	c.bg.Wait()
}

// Subscribe registers fn for every cache event. The returned func unsubscribes.
func (c *Client) Subscribe(fn func(Event)) func() {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Client) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	c.subMu.Lock()
	fns := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()
	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

// entryLocked returns the entry for key, creating it. c.mu must be held.
func (c *Client) entryLocked(key Key) *entry {
	ks := key.String()
	e := c.entries[ks]
	if e == nil {
		e = &entry{key: append(Key(nil), key...), inflight: make(map[uint64]context.CancelFunc)}
		c.entries[ks] = e
	}
	return e
}

// matchLocked returns the entries under prefix. c.mu must be held.
func (c *Client) matchLocked(prefix Key) []*entry {
	var out []*entry
	for _, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			out = append(out, e)
		}
	}
	return out
}

// State reports the lifecycle of key. Unknown keys are idle.
func (c *Client) State(key Key) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.entries[key.String()]; e != nil {
		return e.state()
	}
	return State{Status: StatusIdle}
}

// Keys lists every cached key.
func (c *Client) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Key, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.key)
	}
	return out
}

// SetQueryData overwrites key with v and makes it fresh. In-flight fetches
// for key will not overwrite it.
func (c *Client) SetQueryData(key Key, v any) {
	c.mu.Lock()
	e := c.entryLocked(key)
	c.writeLocked(e, v)
	c.mu.Unlock()
	c.group.Forget(key.String())
	c.emit(Event{Type: EventUpdated, Key: key})
}

func (c *Client) writeLocked(e *entry, v any) {
	e.gen++
	e.version++
	e.data = v
	e.hasData = true
	e.err = nil
	e.updatedAt = c.now()
	e.invalidated = false
	e.invalidSeq = e.fetchSeq
}

// CancelQueries aborts in-flight fetches under prefix. Their results are
// discarded; cached data is left untouched.
func (c *Client) CancelQueries(prefix Key) {
	var events []Event
	c.mu.Lock()
	for _, e := range c.matchLocked(prefix) {
		e.gen++
		for seq, cancel := range e.inflight {
			cancel()
			delete(e.inflight, seq)
		}
		c.group.Forget(e.key.String())
		events = append(events, Event{Type: EventCanceled, Key: e.key})
	}
	c.mu.Unlock()
	c.emit(events...)
}

// InvalidateQueries marks every entry under prefix stale so the next read
// refetches. With background refetch enabled, entries that have been read
// before are refetched immediately.
func (c *Client) InvalidateQueries(prefix Key) {
	var events []Event
	var refetch []*entry
	c.mu.Lock()
	for _, e := range c.matchLocked(prefix) {
		e.invalidated = true
		e.invalidSeq = e.fetchSeq
		c.group.Forget(e.key.String())
		events = append(events, Event{Type: EventInvalidated, Key: e.key})
		if c.refetchOnInvalidate && e.refetch != nil && !c.closed {
			refetch = append(refetch, e)
		}
	}
	for _, e := range refetch {
		c.bg.Add(1)
		go c.backgroundRefetch(e.key, e.refetch, e.retry)
	}
	c.mu.Unlock()
	c.emit(events...)
}

func (c *Client) backgroundRefetch(key Key, fn fetchFunc, retry int) {
	defer c.bg.Done()
	ks := key.String()
	_, err, _ := c.group.Do(ks, func() (any, error) {
		return c.execute(c.bgCtx, key, fn, retry)
	})
	if err != nil && c.bgCtx.Err() == nil {
		c.logger.Debug("cache: background refetch failed", slog.String("key", ks), slog.String("error", err.Error()))
	}
}

// RemoveQueries drops every entry under prefix and aborts their fetches.
func (c *Client) RemoveQueries(prefix Key) {
	var events []Event
	c.mu.Lock()
	for _, e := range c.matchLocked(prefix) {
		events = append(events, c.removeLocked(e))
	}
	c.mu.Unlock()
	c.emit(events...)
}

func (c *Client) removeLocked(e *entry) Event {
	for _, cancel := range e.inflight {
		cancel()
	}
	ks := e.key.String()
	delete(c.entries, ks)
	c.group.Forget(ks)
	return Event{Type: EventRemoved, Key: e.key}
}

// Clear empties the cache.
func (c *Client) Clear() {
	c.RemoveQueries(nil)
}
