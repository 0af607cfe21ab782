// Package clientutil implements a minimal reference client for the
// devicectl-core gateway protocol: request/response correlation by id
// plus a channel of broadcast (id-0) events. It exists to exercise the
// gateway end-to-end in tests and as a worked example of the wire
// protocol for integrators.
package clientutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/devicectl-core/internal/messages"
)

// Client is a single connection to a devicectl-core gateway.
//
// Thread Safety: Request methods are safe for concurrent use; each call
// gets its own correlation id and response channel. Events() delivers
// broadcast (id-0) envelopes to a single shared channel buffered to 64;
// an event that arrives while that buffer is full is dropped. Only one
// consumer should read it.
type Client struct {
	conn *websocket.Conn

	nextID uint32

	mu      sync.Mutex
	pending map[uint32]chan messages.Envelope

	events chan messages.Envelope
	closed chan struct{}
}

// Dial connects to a gateway at url (e.g. "ws://localhost:12345/devicectl")
// and starts its read loop.
func Dial(url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("clientutil: dial failed: %w", err)
	}
	c := &Client{
		conn:    conn,
		pending: make(map[uint32]chan messages.Envelope),
		events:  make(chan messages.Envelope, 64),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events returns the channel of broadcast (id-0) envelopes: DeviceAdded,
// DeviceRemoved, and ScanningFinished.
func (c *Client) Events() <-chan messages.Envelope {
	return c.events
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer close(c.events)
	defer close(c.closed)
	for {
		var env messages.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		if env.Id == 0 {
			select {
			case c.events <- env:
			default:
			}
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[env.Id]
		if ok {
			delete(c.pending, env.Id)
		}
		c.mu.Unlock()
		if ok {
			ch <- env
		}
	}
}

// request sends kind/payload with a freshly allocated id and blocks
// until the matching response arrives or ctx is cancelled.
func (c *Client) request(ctx context.Context, kind messages.Kind, payload any) (messages.Envelope, error) {
	id := atomic.AddUint32(&c.nextID, 1)
	ch := make(chan messages.Envelope, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	env := messages.Envelope{Id: id, Kind: kind, Payload: payload}
	if err := c.conn.WriteJSON(env); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return messages.Envelope{}, fmt.Errorf("clientutil: write failed: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return messages.Envelope{}, ctx.Err()
	case <-c.closed:
		return messages.Envelope{}, fmt.Errorf("clientutil: connection closed")
	}
}

func asError(env messages.Envelope) error {
	if env.Kind != messages.KindError {
		return nil
	}
	raw, _ := json.Marshal(env.Payload)
	var e messages.Error
	_ = json.Unmarshal(raw, &e)
	return fmt.Errorf("clientutil: server error %s: %s", e.Code, e.Message)
}

// RequestServerInfo performs the initial handshake.
func (c *Client) RequestServerInfo(ctx context.Context) error {
	env, err := c.request(ctx, messages.KindRequestServerInfo, messages.RequestServerInfo{})
	if err != nil {
		return err
	}
	return asError(env)
}

// Ping resets the server's ping deadman switch.
func (c *Client) Ping(ctx context.Context) error {
	env, err := c.request(ctx, messages.KindPing, messages.Ping{})
	if err != nil {
		return err
	}
	return asError(env)
}

// StartScanning requests every attached transport begin discovery.
func (c *Client) StartScanning(ctx context.Context) error {
	env, err := c.request(ctx, messages.KindStartScanning, messages.StartScanning{})
	if err != nil {
		return err
	}
	return asError(env)
}

// StopScanning requests every attached transport stop discovery.
func (c *Client) StopScanning(ctx context.Context) error {
	env, err := c.request(ctx, messages.KindStopScanning, messages.StopScanning{})
	if err != nil {
		return err
	}
	return asError(env)
}

// ListDevices enumerates every currently live device.
func (c *Client) ListDevices(ctx context.Context) ([]messages.DeviceInfo, error) {
	env, err := c.request(ctx, messages.KindDeviceList, messages.DeviceList{})
	if err != nil {
		return nil, err
	}
	if err := asError(env); err != nil {
		return nil, err
	}
	var list messages.DeviceList
	raw, _ := json.Marshal(env.Payload)
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("clientutil: decoding DeviceList: %w", err)
	}
	return list.Devices, nil
}

// Device is a handle to one live device, scoped to its index — modeled
// on the upstream client's per-device handle, adapted to request/reply
// over one shared connection rather than one channel per device.
type Device struct {
	client *Client
	Index  uint32
	Name   string
}

// DeviceHandle returns a Device handle for index, without validating
// that the index is currently live — the first command against it will
// fail with DeviceNotFound if it is not.
func (c *Client) DeviceHandle(index uint32, name string) *Device {
	return &Device{client: c, Index: index, Name: name}
}

// SendVibrateCmd sets a single actuator's speed in [0.0, 1.0].
func (d *Device) SendVibrateCmd(ctx context.Context, actuatorIndex uint32, speed float64) error {
	cmd := messages.VibrateCmd{
		DeviceIndex: d.Index,
		Speeds:      []messages.SpeedCmd{{Index: actuatorIndex, Speed: speed}},
	}
	env, err := d.client.request(ctx, messages.KindVibrateCmd, cmd)
	if err != nil {
		return err
	}
	return asError(env)
}

// Stop zeroes every actuator on the device.
func (d *Device) Stop(ctx context.Context) error {
	cmd := messages.StopDeviceCmd{DeviceIndex: d.Index}
	env, err := d.client.request(ctx, messages.KindStopDeviceCmd, cmd)
	if err != nil {
		return err
	}
	return asError(env)
}
