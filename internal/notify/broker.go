// Package notify fans watcher change events out to SSE clients.
//
// The broker is also what gives the watcher its lazy lifecycle: a
// library's watch handle starts when its first client connects and stops
// when the last one disconnects.
package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/hverdal/arkiv/internal/library"
	"github.com/hverdal/arkiv/internal/watcher"
)

// Watch is the slice of the watcher manager the broker drives.
type Watch interface {
	Subscribe(libraryId string, handler func(watcher.Event)) (int, error)
	Unsubscribe(id int)
}

type subscribeReq struct {
	libs []string
	resp chan chan []byte
}

// Broker manages SSE client connections and broadcasts change events.
//
// Concurrency model: a single internal event loop owns all mutable state
// (clients, per-library watch tokens and refcounts). Public methods
// communicate with the loop through channels, so no mutexes are needed.
type Broker struct {
	manager Watch
	libs    library.Store

	subscribeCh   chan subscribeReq
	unsubscribeCh chan chan []byte
	eventCh       chan watcher.Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker wired to the watcher manager.
func NewBroker(manager Watch, libs library.Store) *Broker {
	b := &Broker{
		manager:       manager,
		libs:          libs,
		subscribeCh:   make(chan subscribeReq),
		unsubscribeCh: make(chan chan []byte),
		eventCh:       make(chan watcher.Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]map[string]struct{})
	libTokens := make(map[string]int)
	libCounts := make(map[string]int)

	acquire := func(lib string) {
		libCounts[lib]++
		if libCounts[lib] > 1 {
			return
		}
		token, err := b.manager.Subscribe(lib, b.forward)
		if err != nil {
			// Unknown or unwatchable library; clients still connect but
			// receive nothing for it.
			libCounts[lib]--
			return
		}
		libTokens[lib] = token
	}
	release := func(lib string) {
		if libCounts[lib] == 0 {
			return
		}
		libCounts[lib]--
		if libCounts[lib] == 0 {
			b.manager.Unsubscribe(libTokens[lib])
			delete(libTokens, lib)
			delete(libCounts, lib)
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch, libs := range clients {
				for lib := range libs {
					release(lib)
				}
				close(ch)
			}
			return

		case req := <-b.subscribeCh:
			ch := make(chan []byte, 64)
			set := make(map[string]struct{}, len(req.libs))
			for _, lib := range req.libs {
				set[lib] = struct{}{}
				acquire(lib)
			}
			clients[ch] = set
			req.resp <- ch

		case ch := <-b.unsubscribeCh:
			if libs, ok := clients[ch]; ok {
				for lib := range libs {
					release(lib)
				}
				delete(clients, ch)
				close(ch)
			}

		case ev := <-b.eventCh:
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			raw := []byte(fmt.Sprintf("event: document.%s\ndata: %s\n\n", ev.Kind, payload))
			for ch, libs := range clients {
				if _, ok := libs[ev.LibraryId]; !ok {
					continue
				}
				select {
				case ch <- raw:
				default:
					// Client buffer full; skip to avoid blocking the loop.
				}
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// forward is the handler registered with the watcher manager. It runs on
// watcher goroutines and must never block the broker loop.
func (b *Broker) forward(ev watcher.Event) {
	select {
	case b.eventCh <- ev:
	default:
	}
}

// Subscribe adds a client listening to the given libraries (all
// configured libraries when the list is empty) and returns its channel.
func (b *Broker) Subscribe(libraryIds []string) chan []byte {
	if len(libraryIds) == 0 {
		if all, err := b.libs.List(); err == nil {
			for _, lib := range all {
				libraryIds = append(libraryIds, lib.Id)
			}
		}
	}

	if b.closed.Load() {
		ch := make(chan []byte)
		close(ch)
		return ch
	}
	req := subscribeReq{libs: libraryIds, resp: make(chan chan []byte, 1)}
	select {
	case b.subscribeCh <- req:
		return <-req.resp
	case <-b.stopped:
		ch := make(chan []byte)
		close(ch)
		return ch
	}
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
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

// Close gracefully stops the broker loop, releasing all watch handles
// and closing all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// ServeHTTP is the SSE endpoint (GET /api/events?library=id). Without a
// library parameter the client receives events for every library.
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

	var libs []string
	if lib := r.URL.Query().Get("library"); lib != "" {
		libs = []string{lib}
	}
	ch := b.Subscribe(libs)
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
