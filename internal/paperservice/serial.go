package paperservice

import (
	"context"
	"sync"

	"github.com/starford/paperlens/internal/models"
)

// serializer orders commits per paper: each caller takes a turn when it
// enters and runs only after every earlier turn for the same paper ended.
type serializer struct {
	mu    sync.Mutex
	tails map[models.PaperID]chan struct{}
}

type turn struct {
	s    *serializer
	id   models.PaperID
	prev chan struct{}
	done chan struct{}
}

func newSerializer() *serializer {
	return &serializer{tails: make(map[models.PaperID]chan struct{})}
}

func (s *serializer) enter(id models.PaperID) *turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &turn{s: s, id: id, prev: s.tails[id], done: make(chan struct{})}
	s.tails[id] = t.done
	return t
}

// wait blocks until every earlier turn has ended.
func (t *turn) wait(ctx context.Context) error {
	if t.prev == nil {
		return nil
	}
	select {
	case <-t.prev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// end lets the next turn run. A turn that gave up waiting still ends only
// after its predecessor, so order is kept.
func (t *turn) end() {
	finish := func() {
		t.s.mu.Lock()
		if t.s.tails[t.id] == t.done {
			delete(t.s.tails, t.id)
		}
		t.s.mu.Unlock()
		close(t.done)
	}
	if t.prev == nil {
		finish()
		return
	}
	select {
	case <-t.prev:
		finish()
	default:
		go func() {
			<-t.prev
			finish()
		}()
	}
}
