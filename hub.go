package main

import "sync"

const (
	maxConnsPerIP = 5
	maxTotalConns = 64
)

// Hub tracks live connections and enforces connection limits. Game state
// never lives here — the Game loop owns that; the hub only knows about
// transports so it can police accepts and close everything on shutdown.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]bool

	// Connection limiting, accessed from HTTP handlers
	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		ipConns: make(map[string]int),
	}
}

// CanAccept reports whether a new connection from ip fits the limits
func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= maxTotalConns {
		metricConnectionsRejected.WithLabelValues("total_limit").Inc()
		return false
	}
	if h.ipConns[ip] >= maxConnsPerIP {
		metricConnectionsRejected.WithLabelValues("ip_limit").Inc()
		return false
	}
	return true
}

// TrackConnect records an accepted connection
func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
	metricConnectionsActive.Set(float64(h.totalConns))
}

// TrackDisconnect records a closed connection
func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
	metricConnectionsActive.Set(float64(h.totalConns))
}

// Register adds a client to the live set
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

// Unregister removes a client from the live set
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// TotalConns returns the tracked connection count
func (h *Hub) TotalConns() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.totalConns
}

// CloseAll force-closes every live connection (shutdown path)
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
	}
}
