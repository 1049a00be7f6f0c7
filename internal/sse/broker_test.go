package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/paperlens/internal/query"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestToastDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Success("북마크가 추가되었습니다.", "")

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: toast") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"kind":"success"`) || !strings.Contains(s, "북마크가 추가되었습니다.") {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestNavigate(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Navigate("/login")
	select {
	case msg := <-ch:
		if s := string(msg); !strings.Contains(s, "event: redirect") || !strings.Contains(s, `"path":"/login"`) {
			t.Errorf("unexpected message %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for redirect")
	}
}

func TestPublishCacheEvent_RefreshThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishCacheEvent(query.Event{Type: query.EventUpdated, Key: query.K("bookmarks")})
	b.PublishCacheEvent(query.Event{Type: query.EventInvalidated, Key: query.K("bookmarks")})
	b.PublishCacheEvent(query.Event{Type: query.EventInvalidated, Key: query.K("papers", "search")})

	time.Sleep(50 * time.Millisecond)
	refresh, cache := 0, 0
	for _, s := range drain(ch) {
		switch {
		case strings.Contains(s, "event: refresh"):
			refresh++
		case strings.Contains(s, "event: cache."):
			cache++
		}
	}
	if cache != 3 {
		t.Errorf("cache events = %d, want 3", cache)
	}
	if refresh != 1 {
		t.Errorf("refresh events = %d, want 1 (throttled)", refresh)
	}
}

func TestSubscribedToQueryClient(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	c := query.NewClient()
	defer c.Close()
	unsub := c.Subscribe(b.PublishCacheEvent)
	defer unsub()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)
	c.SetQueryData(query.K("interests"), []string{"cs.AI"})

	select {
	case msg := <-ch:
		if s := string(msg); !strings.Contains(s, "event: cache.updated") || !strings.Contains(s, `"interests"`) {
			t.Errorf("unexpected message %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for cache event")
	}
}

// syncRecorder guards the recorder body; the handler writes from its own goroutine.
type syncRecorder struct {
	mu sync.Mutex
	*httptest.ResponseRecorder
}

func (r *syncRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(p)
}

func (r *syncRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Body.String()
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := &syncRecorder{ResponseRecorder: httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for b.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Info("sync", "")
	deadline = time.Now().Add(time.Second)
	for !strings.Contains(w.body(), "event: toast") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done

	if !strings.Contains(w.body(), "event: toast") {
		t.Errorf("handler output missing event: %q", w.body())
	}
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Buffer holds 64; the rest must be dropped without blocking.
	for i := 0; i < 70; i++ {
		b.Info("x", "")
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	b.Navigate("/login")
	b.PublishCacheEvent(query.Event{Type: query.EventRemoved, Key: query.K("bookmarks")})
}
