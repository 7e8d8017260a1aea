// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	broadcastQueueSize = 256
	writeTimeout       = time.Second
)

// WebSocketTransport broadcasts every frame as JSON to all clients
// connected on /ws. With a gatherer it also serves /metrics.
type WebSocketTransport struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]struct{}
	clientsMu sync.Mutex
	broadcast chan any
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64

	listener net.Listener
	server   *http.Server
	wg       sync.WaitGroup
}

// WebSocketOption customizes a WebSocketTransport.
type WebSocketOption func(*http.ServeMux)

// WithGatherer serves the metrics in g on /metrics.
func WithGatherer(g prometheus.Gatherer) WebSocketOption {
	return func(mux *http.ServeMux) {
		mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}
}

// NewWebSocketTransport listens on addr ("host:port", port 0 picks a free
// one) and starts serving.
func NewWebSocketTransport(addr string, opts ...WebSocketOption) (*WebSocketTransport, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	wst := &WebSocketTransport{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // monitor clients are local tools
			},
		},
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan any, broadcastQueueSize),
		done:      make(chan struct{}),
		listener:  ln,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wst.handleWebSocket)
	for _, opt := range opts {
		opt(mux)
	}
	wst.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	wst.wg.Add(2)
	go func() {
		defer wst.wg.Done()
		logger.Infof("websocket monitor listening on %s", ln.Addr())
		if err := wst.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("websocket server: %v", err)
		}
	}()
	go wst.handleBroadcasts()
	return wst, nil
}

// Addr returns the bound listen address.
func (wst *WebSocketTransport) Addr() net.Addr { return wst.listener.Addr() }

// ClientCount returns the number of connected clients.
func (wst *WebSocketTransport) ClientCount() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

// Dropped returns how many frames were discarded because the broadcast
// queue was full.
func (wst *WebSocketTransport) Dropped() uint64 { return wst.dropped.Load() }

// handleWebSocket upgrades HTTP connections to WebSocket.
func (wst *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("websocket upgrade: %v", err)
		return
	}

	wst.clientsMu.Lock()
	select {
	case <-wst.done:
		wst.clientsMu.Unlock()
		conn.Close()
		return
	default:
	}
	wst.clients[conn] = struct{}{}
	total := len(wst.clients)
	wst.wg.Add(1)
	wst.clientsMu.Unlock()
	logger.Infof("monitor client connected, total: %d", total)

	// Clients only listen; a read error means they went away.
	go func() {
		defer wst.wg.Done()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		wst.removeClient(conn)
	}()
}

func (wst *WebSocketTransport) removeClient(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	_, ok := wst.clients[conn]
	delete(wst.clients, conn)
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	conn.Close()
	if ok {
		logger.Infof("monitor client disconnected, total: %d", total)
	}
}

// handleBroadcasts sends queued frames to all connected clients.
func (wst *WebSocketTransport) handleBroadcasts() {
	defer wst.wg.Done()
	for {
		select {
		case <-wst.done:
			return
		case data := <-wst.broadcast:
			wst.clientsMu.Lock()
			for client := range wst.clients {
				_ = client.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := client.WriteJSON(data); err != nil {
					logger.Warnf("monitor client write: %v", err)
					client.Close()
					delete(wst.clients, client)
				}
			}
			wst.clientsMu.Unlock()
		}
	}
}

// Send queues data for broadcast. A full queue drops the frame.
func (wst *WebSocketTransport) Send(data any) error {
	select {
	case <-wst.done:
		return ErrClosed
	default:
	}
	select {
	case wst.broadcast <- data:
	default:
		wst.dropped.Add(1)
	}
	return nil
}

// Close disconnects all clients, shuts the server down and waits for its
// goroutines.
func (wst *WebSocketTransport) Close() error {
	var err error
	wst.closeOnce.Do(func() {
		logger.Infof("closing websocket monitor")
		wst.clientsMu.Lock()
		close(wst.done)
		for client := range wst.clients {
			client.Close()
		}
		wst.clientsMu.Unlock()

		err = wst.server.Close()
		wst.wg.Wait()
	})
	return err
}

var _ Transport = (*WebSocketTransport)(nil)
