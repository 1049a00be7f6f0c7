package query

import "context"

// Resolution says how a failed optimistic commit is undone.
type Resolution int

const (
	// Rollback restores the pre-mutation value verbatim, or removes the
	// entry if there was none. If another write replaced the speculative
	// value in the meantime, the entry is invalidated instead.
	Rollback Resolution = iota
	// InvalidateOnError keeps the speculative value but marks it stale so the
	// next read refetches the truth.
	InvalidateOnError
)

// OptimisticUpdate is a mutation whose effect is shown before the server confirms it.
type OptimisticUpdate[T, R any] struct {
	Key Key
	// Apply computes the speculative value from the current one.
	Apply func(old T, ok bool) T
	// Commit performs the server call.
	Commit func(ctx context.Context) (R, error)
	// Invalidate lists extra prefixes invalidated after a successful commit.
	Invalidate []Key
	// OnError picks the resolution for a failed commit; nil means Rollback.
	OnError func(err error) Resolution
}

// write identifies one speculative write: the entry it went to and the
// version it left there.
type write struct {
	entry   *entry
	version uint64
}

// RunOptimistic runs the three phases of an optimistic mutation:
// cancel in-flight reads of Key, snapshot and apply the speculative value
// in one step, then commit. A successful commit invalidates Key and the
// extra prefixes. A failed one is resolved by OnError and its error returned.
//
// A failed commit never resurrects an entry that was removed while it ran
// (e.g. by Clear on logout).
func RunOptimistic[T, R any](ctx context.Context, c *Client, u OptimisticUpdate[T, R]) (R, error) {
	c.CancelQueries(u.Key)
	snapshot, had, w := updateQueryData(c, u.Key, u.Apply)

	res, err := u.Commit(ctx)
	if err != nil {
		resolution := Rollback
		if u.OnError != nil {
			resolution = u.OnError(err)
		}
		switch resolution {
		case InvalidateOnError:
			c.InvalidateQueries(u.Key)
		default:
			c.rollback(w, snapshot, had)
		}
		return res, err
	}

	c.InvalidateQueries(u.Key)
	for _, k := range u.Invalidate {
		c.InvalidateQueries(k)
	}
	return res, nil
}

// rollback undoes write w with the snapshot taken before it.
//
// If the entry is gone or was re-created, nothing is restored. If a later
// write replaced w, that write was computed from the value now known to be
// wrong: the entry is invalidated and its version bumped, so the later
// writer's own rollback cannot restore a snapshot holding w's value either.
func (c *Client) rollback(w write, snapshot any, had bool) {
	c.mu.Lock()
	e := c.entries[w.entry.key.String()]
	if e != w.entry {
		c.mu.Unlock()
		return
	}
	var ev Event
	switch {
	case e.version != w.version:
		e.version++
		e.invalidated = true
		e.invalidSeq = e.fetchSeq
		ev = Event{Type: EventInvalidated, Key: e.key}
	case had:
		c.writeLocked(e, snapshot)
		ev = Event{Type: EventUpdated, Key: e.key}
	default:
		ev = c.removeLocked(e)
	}
	c.mu.Unlock()
	c.group.Forget(w.entry.key.String())
	c.emit(ev)
}
