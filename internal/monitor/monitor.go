// Package monitor serves the optional live-telemetry websocket and the
// Prometheus scrape endpoint over a single HTTP listener.
package monitor

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 8192,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is one telemetry record pushed to connected websocket clients:
// a frame decode outcome, a MAC send result, or a NAT translation.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Kind      string         `json:"kind"`
	Fields    map[string]any `json:"fields"`
}

// Monitor fans Events out to every connected websocket client and serves
// Prometheus metrics on a configurable path.
type Monitor struct {
	PrometheusPath string

	mu      sync.Mutex
	clients map[*websocket.Conn]chan Event
	server  *http.Server
}

// New constructs a Monitor. prometheusPath defaults to /metrics if empty.
func New(prometheusPath string) *Monitor {
	if prometheusPath == "" {
		prometheusPath = "/metrics"
	}
	return &Monitor{
		PrometheusPath: prometheusPath,
		clients:        make(map[*websocket.Conn]chan Event),
	}
}

// Publish fans an event out to every connected websocket client, dropping
// it for any client whose send queue is full rather than blocking.
func (m *Monitor) Publish(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

// ListenAndServe starts the HTTP listener and blocks until ctx is cancelled
// or the server fails.
func (m *Monitor) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", m.handleWebSocket)
	mux.Handle(m.PrometheusPath, promhttp.Handler())

	m.server = &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- m.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return m.server.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (m *Monitor) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("monitor: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	clientID := uuid.New().String()
	ch := make(chan Event, 32)
	m.mu.Lock()
	m.clients[conn] = ch
	m.mu.Unlock()
	log.Printf("monitor: client %s connected", clientID)
	defer func() {
		m.mu.Lock()
		delete(m.clients, conn)
		m.mu.Unlock()
		log.Printf("monitor: client %s disconnected", clientID)
	}()

	for ev := range ch {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}
