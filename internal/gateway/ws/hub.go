// Package ws implements the reference client/server transport: one
// WebSocket connection per client, multiplexing the full messages
// protocol (commands, responses, and broadcast events) described by
// internal/messages.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/devicectl-core/internal/commanager"
	"github.com/nerrad567/devicectl-core/internal/devicemanager"
	"github.com/nerrad567/devicectl-core/internal/gcm"
	"github.com/nerrad567/devicectl-core/internal/infrastructure/config"
	"github.com/nerrad567/devicectl-core/internal/infrastructure/logging"
	"github.com/nerrad567/devicectl-core/internal/messages"
)

// CommandRecorder receives one event per actuator command the gateway
// dispatches to a device, for optional time-series observability.
// *influx.Writer satisfies this. Hub skips recording while no recorder
// has been set (see SetRecorder).
type CommandRecorder interface {
	RecordCommand(deviceIndex uint32, kind gcm.CommandKind)
}

// sendBufferSize is the per-client outbound message buffer depth.
const sendBufferSize = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is left to a reverse proxy; this core has no
		// cookie-based session to protect against CSRF-style misuse.
		return true
	},
}

// Hub owns the set of connected clients and implements
// devicemanager.Broadcaster by fanning server events out to all of
// them. It also dispatches every client-originated command against the
// shared EventLoop and the set of registered Communication Manager
// backends.
type Hub struct {
	cfg      config.GatewayConfig
	el       *devicemanager.EventLoop
	managers []commanager.Manager
	log      *logging.Logger
	recorder CommandRecorder

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub constructs a Hub. managers is the set of Communication Manager
// backends StartScanning/StopScanning fan out to. el may be nil at
// construction time and supplied later via SetEventLoop — the EventLoop
// is typically constructed with this Hub as its Broadcaster, so the two
// have a circular wiring dependency resolved by the caller (see
// cmd/devicectld).
func NewHub(cfg config.GatewayConfig, el *devicemanager.EventLoop, managers []commanager.Manager, log *logging.Logger) *Hub {
	if log == nil {
		log = logging.Noop()
	}
	return &Hub{
		cfg:      cfg,
		el:       el,
		managers: managers,
		log:      log,
		clients:  make(map[*Client]struct{}),
	}
}

// SetEventLoop attaches the EventLoop a Hub dispatches commands against.
// Must be called before ServeHTTP handles any connection.
func (h *Hub) SetEventLoop(el *devicemanager.EventLoop) {
	h.el = el
}

// SetRecorder attaches an optional command-metrics sink. Safe to leave
// unset; recording is skipped whenever recorder is nil.
func (h *Hub) SetRecorder(recorder CommandRecorder) {
	h.recorder = recorder
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ServeHTTP upgrades the connection and starts the client's read/write
// pumps. Mount at cfg.Path.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	h.register(c)
	go c.writePump(h.cfg)
	go c.readPump(h.cfg)
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("gateway client connected", "client_id", c.id, "clients", h.ClientCount())
}

// unregister removes a client. Only the goroutine that actually deletes
// the client from the map closes its send channel, preventing a
// double-close panic during concurrent shutdown and disconnect.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if existed {
		close(c.send)
	}
	h.log.Debug("gateway client disconnected", "client_id", c.id, "clients", h.ClientCount())
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		c.conn.Close()
		delete(h.clients, c)
	}
}

// Broadcast implements devicemanager.Broadcaster: msg is wrapped in an
// Id-0 Envelope and fanned out to every connected client.
func (h *Hub) Broadcast(msg any) {
	env, ok := envelopeFor(msg)
	if !ok {
		h.log.Error("gateway: cannot broadcast message of unknown kind", "type", msg)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.log.Error("gateway: failed to marshal broadcast envelope", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.trySend(data)
	}
}

func envelopeFor(msg any) (messages.Envelope, bool) {
	switch m := msg.(type) {
	case messages.DeviceAdded:
		return messages.Envelope{Id: m.Id, Kind: messages.KindDeviceAdded, Payload: m}, true
	case messages.DeviceRemoved:
		return messages.Envelope{Id: m.Id, Kind: messages.KindDeviceRemoved, Payload: m}, true
	case messages.ScanningFinished:
		return messages.Envelope{Id: m.Id, Kind: messages.KindScanningFinished, Payload: m}, true
	default:
		return messages.Envelope{}, false
	}
}

// defaultPingSeconds and defaultPongSeconds are the fallbacks durations
// uses when cfg leaves PingInterval or PongTimeout at zero or below.
const (
	defaultPingSeconds = 30
	defaultPongSeconds = 10
)

func durations(cfg config.GatewayConfig) (ping, pong time.Duration) {
	p := cfg.PingInterval
	if p <= 0 {
		p = defaultPingSeconds
	}
	w := cfg.PongTimeout
	if w <= 0 {
		w = defaultPongSeconds
	}
	return time.Duration(p) * time.Second, time.Duration(w) * time.Second
}
