package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/starford/paperlens/internal/apperr"
)

const maxRetryInterval = 30 * time.Second

// Query describes one cached read.
type Query[T any] struct {
	Key Key
	Fn  func(ctx context.Context) (T, error)
	// StaleTime is how long a successful result is served without refetching.
	StaleTime time.Duration
	// Enabled gates the read; nil means always enabled.
	Enabled func() bool
	// Retry is the number of extra attempts after a failure. Client errors
	// (4xx) are never retried.
	Retry int
}

// Fetch returns the cached value for q.Key while it is fresh, and otherwise
// runs q.Fn once for all concurrent callers of the same key.
//
// If the entry is canceled or overwritten while the fetch is in flight, the
// fetch result is dropped and the caller receives the value now cached.
func Fetch[T any](ctx context.Context, c *Client, q Query[T]) (T, error) {
	var zero T
	if q.Enabled != nil && !q.Enabled() {
		return zero, apperr.ErrDisabled
	}
	ks := q.Key.String()
	fn := func(ctx context.Context) (any, error) { return q.Fn(ctx) }

	c.mu.Lock()
	e := c.entryLocked(q.Key)
	e.refetch = fn
	e.retry = q.Retry
	if e.hasData && !e.invalidated && c.now().Sub(e.updatedAt) < q.StaleTime {
		if v, ok := e.data.(T); ok {
			c.mu.Unlock()
			c.metrics.inc(hits, q.Key)
			return v, nil
		}
	}
	c.mu.Unlock()
	c.metrics.inc(misses, q.Key)

	ch := c.group.DoChan(ks, func() (any, error) {
		return c.execute(ctx, q.Key, fn, q.Retry)
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, ok := res.Val.(T)
		if !ok && res.Val != nil {
			return zero, fmt.Errorf("query: %s holds %T", ks, res.Val)
		}
		return v, nil
	}
}

// execute runs one fetch for key and writes the result if the entry has not
// changed since the fetch started. The fetch outlives the caller's
// cancellation so other waiters still get a result; CancelQueries and
// RemoveQueries abort it.
func (c *Client) execute(parent context.Context, key Key, fn fetchFunc, retry int) (any, error) {
	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(parent))
	defer cancel()

	c.mu.Lock()
	e := c.entryLocked(key)
	e.fetchSeq++
	seq, gen := e.fetchSeq, e.gen
	e.inflight[seq] = cancel
	c.mu.Unlock()

	v, err := c.withRetry(fetchCtx, key, fn, retry)

	c.mu.Lock()
	delete(e.inflight, seq)
	current := c.entries[key.String()] == e
	if !current || e.gen != gen || seq < e.writtenSeq {
		c.metrics.inc(discarded, key)
		if current && e.hasData {
			data := e.data
			c.mu.Unlock()
			return data, nil
		}
		c.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if fetchCtx.Err() != nil {
			return nil, fmt.Errorf("query: %s: %w", key, context.Canceled)
		}
		return v, nil
	}
	if err != nil {
		e.err = err
		c.mu.Unlock()
		c.metrics.inc(fetchErrors, key)
		return nil, err
	}
	e.data = v
	e.hasData = true
	e.version++
	e.err = nil
	e.updatedAt = c.now()
	e.writtenSeq = seq
	e.invalidated = seq <= e.invalidSeq
	c.mu.Unlock()
	c.emit(Event{Type: EventUpdated, Key: key})
	return v, nil
}

func (c *Client) withRetry(ctx context.Context, key Key, fn fetchFunc, retry int) (any, error) {
	if retry <= 0 {
		return fn(ctx)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryDelay
	b.MaxInterval = maxRetryInterval
	b.MaxElapsedTime = 0

	var out any
	attempt := 0
	op := func() error {
		attempt++
		v, err := fn(ctx)
		if err == nil {
			out = v
			return nil
		}
		if apperr.IsClientError(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("cache: retrying fetch",
			slog.String("key", key.String()),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
	}
	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retry)), ctx), notify)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return out, err
}

// GetQueryData returns the cached value for key, if any.
func GetQueryData[T any](c *Client, key Key) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	e := c.entries[key.String()]
	if e == nil || !e.hasData {
		return zero, false
	}
	v, ok := e.data.(T)
	return v, ok
}

// UpdateQueryData atomically replaces the value at key with fn(old) and
// returns the previous value. ok reports whether a value existed.
func UpdateQueryData[T any](c *Client, key Key, fn func(old T, ok bool) T) (prev T, ok bool) {
	prev, ok, _ = updateQueryData(c, key, fn)
	return prev, ok
}

// updateQueryData is UpdateQueryData that also reports which write it made,
// so a later rollback can tell whether anything replaced it.
func updateQueryData[T any](c *Client, key Key, fn func(old T, ok bool) T) (prev T, ok bool, w write) {
	c.mu.Lock()
	e := c.entryLocked(key)
	if e.hasData {
		prev, ok = e.data.(T)
	}
	c.writeLocked(e, fn(prev, ok))
	w = write{entry: e, version: e.version}
	c.mu.Unlock()
	c.group.Forget(key.String())
	c.emit(Event{Type: EventUpdated, Key: key})
	return prev, ok, w
}
