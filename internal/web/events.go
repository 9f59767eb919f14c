package web

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// maxSSEClients bounds concurrent /events/stream connections.
const maxSSEClients = 32

// ErrTooManyClients is returned by Subscribe when the client limit is reached.
var ErrTooManyClients = errors.New("too many event stream clients")

// EventBus fans NATS events out to SSE clients and keeps a ring buffer of recent events.
type EventBus struct {
	mu       sync.RWMutex
	clients  map[chan []byte]struct{}
	ring     [][]byte
	ringSize int
	ringPos  int
	ringLen  int
}

// NewEventBus creates an event bus with the given ring buffer size.
func NewEventBus(size int) *EventBus {
	return &EventBus{
		clients:  make(map[chan []byte]struct{}),
		ring:     make([][]byte, size),
		ringSize: size,
	}
}

// Publish adds an event to the ring buffer and fans it out to all SSE clients.
func (eb *EventBus) Publish(data []byte) {
	data = append([]byte(nil), data...)

	eb.mu.Lock()
	eb.ring[eb.ringPos] = data
	eb.ringPos = (eb.ringPos + 1) % eb.ringSize
	if eb.ringLen < eb.ringSize {
		eb.ringLen++
	}
	clients := make([]chan []byte, 0, len(eb.clients))
	for ch := range eb.clients {
		clients = append(clients, ch)
	}
	eb.mu.Unlock()

	for _, ch := range clients {
		select {
		case ch <- data:
		default:
			// Slow client, drop.
		}
	}
}

// Subscribe returns a channel that receives events and an unsubscribe function.
func (eb *EventBus) Subscribe() (chan []byte, func(), error) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if len(eb.clients) >= maxSSEClients {
		return nil, nil, ErrTooManyClients
	}
	ch := make(chan []byte, 64)
	eb.clients[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			eb.mu.Lock()
			delete(eb.clients, ch)
			eb.mu.Unlock()
		})
	}, nil
}

// Recent returns the ring buffer contents in chronological order.
func (eb *EventBus) Recent() [][]byte {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	result := make([][]byte, 0, eb.ringLen)
	start := (eb.ringPos - eb.ringLen + eb.ringSize) % eb.ringSize
	for i := 0; i < eb.ringLen; i++ {
		if data := eb.ring[(start+i)%eb.ringSize]; data != nil {
			result = append(result, data)
		}
	}
	return result
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, unsub, err := s.eventBus.Subscribe()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case data := <-ch:
			row := s.renderEventRow(data)
			if row == "" {
				continue
			}
			fmt.Fprintf(w, "event: event\ndata: %s\n\n", row)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// renderEventRow returns the event_row partial on a single line, or "" for
// undecodable data.
func (s *Server) renderEventRow(data []byte) string {
	ed, ok := decodeEvent(data)
	if !ok {
		return ""
	}
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, "event_row", ed); err != nil {
		s.logger.Error().Err(err).Msg("render event row")
		return ""
	}
	return strings.ReplaceAll(buf.String(), "\n", "")
}
