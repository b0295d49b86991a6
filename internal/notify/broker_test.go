package notify

import (
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hverdal/arkiv/internal/library"
	"github.com/hverdal/arkiv/internal/watcher"
)

// fakeWatch records subscriptions so the broker's lazy start/stop
// behavior is observable without touching the filesystem.
type fakeWatch struct {
	mu       sync.Mutex
	nextId   int
	handlers map[int]func(watcher.Event)
	perLib   map[string]int
}

func newFakeWatch() *fakeWatch {
	return &fakeWatch{
		handlers: make(map[int]func(watcher.Event)),
		perLib:   make(map[string]int),
	}
}

func (f *fakeWatch) Subscribe(libraryId string, handler func(watcher.Event)) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if libraryId == "missing" {
		return 0, fmt.Errorf("library: %q not found", libraryId)
	}
	f.nextId++
	f.handlers[f.nextId] = handler
	f.perLib[libraryId]++
	return f.nextId, nil
}

func (f *fakeWatch) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, id)
}

func (f *fakeWatch) emit(ev watcher.Event) {
	f.mu.Lock()
	hs := make([]func(watcher.Event), 0, len(f.handlers))
	for _, h := range f.handlers {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (f *fakeWatch) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func testStore(t *testing.T) library.Store {
	t.Helper()
	libs := library.NewFileStore(filepath.Join(t.TempDir(), "libraries.json"))
	for _, id := range []string{"lib1", "lib2"} {
		if err := libs.Add(library.Library{Id: id, RootPath: t.TempDir()}); err != nil {
			t.Fatal(err)
		}
	}
	return libs
}

func eventually(t *testing.T, timeout time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error(msg)
}

func TestBroker_DeliversMatchingLibraryOnly(t *testing.T) {
	fw := newFakeWatch()
	b := NewBroker(fw, testStore(t))
	defer b.Close()

	ch := b.Subscribe([]string{"lib1"})
	defer b.Unsubscribe(ch)
	eventually(t, time.Second, func() bool { return fw.active() == 1 }, "watch not started")

	fw.emit(watcher.Event{LibraryId: "lib2", Path: "/x/other.pdf", Kind: watcher.KindCreated})
	fw.emit(watcher.Event{LibraryId: "lib1", Path: "/x/mine.pdf", Kind: watcher.KindCreated})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: document.created") || !strings.Contains(s, "mine.pdf") {
			t.Errorf("unexpected payload: %q", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
	select {
	case msg := <-ch:
		t.Errorf("event for unsubscribed library delivered: %q", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroker_EmptyLibraryListMeansAll(t *testing.T) {
	fw := newFakeWatch()
	b := NewBroker(fw, testStore(t))
	defer b.Close()

	ch := b.Subscribe(nil)
	defer b.Unsubscribe(ch)
	eventually(t, time.Second, func() bool { return fw.active() == 2 }, "expected a watch per configured library")

	fw.emit(watcher.Event{LibraryId: "lib2", Path: "/x/a.pdf", Kind: watcher.KindUpdated})
	select {
	case msg := <-ch:
		if !strings.Contains(string(msg), "document.updated") {
			t.Errorf("unexpected payload: %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestBroker_LastClientStopsWatch(t *testing.T) {
	fw := newFakeWatch()
	b := NewBroker(fw, testStore(t))
	defer b.Close()

	a := b.Subscribe([]string{"lib1"})
	c := b.Subscribe([]string{"lib1"})
	eventually(t, time.Second, func() bool { return fw.active() == 1 }, "shared watch should be started once")

	b.Unsubscribe(a)
	time.Sleep(50 * time.Millisecond)
	if fw.active() != 1 {
		t.Error("watch must survive while one client remains")
	}
	b.Unsubscribe(c)
	eventually(t, time.Second, func() bool { return fw.active() == 0 }, "watch must stop with the last client")
}

func TestBroker_ClientCount(t *testing.T) {
	fw := newFakeWatch()
	b := NewBroker(fw, testStore(t))
	defer b.Close()

	if n := b.ClientCount(); n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
	ch := b.Subscribe([]string{"lib1"})
	if n := b.ClientCount(); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
	b.Unsubscribe(ch)
	if n := b.ClientCount(); n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestBroker_CloseReleasesEverything(t *testing.T) {
	fw := newFakeWatch()
	b := NewBroker(fw, testStore(t))

	ch := b.Subscribe([]string{"lib1"})
	b.Close()

	if fw.active() != 0 {
		t.Error("close must release all watch handles")
	}
	if _, open := <-ch; open {
		t.Error("client channel must be closed")
	}
	// Calls after close are safe no-ops.
	b.Unsubscribe(ch)
	if n := b.ClientCount(); n != 0 {
		t.Errorf("count after close = %d", n)
	}
}

func TestBroker_ServeHTTPStreamsEvents(t *testing.T) {
	fw := newFakeWatch()
	b := NewBroker(fw, testStore(t))
	defer b.Close()

	srv := httptest.NewServer(b)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "?library=lib1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	eventually(t, 2*time.Second, func() bool { return fw.active() == 1 }, "connect should start the watch")
	fw.emit(watcher.Event{LibraryId: "lib1", Path: "/x/a.pdf", Kind: watcher.KindDeleted})

	buf := make([]byte, 512)
	n, err := resp.Body.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if s := string(buf[:n]); !strings.Contains(s, "event: document.deleted") {
		t.Errorf("stream payload = %q", s)
	}
}
