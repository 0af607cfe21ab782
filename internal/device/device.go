// Package device implements the live-device facade: a wrapper around a
// transport endpoint and a protocol command handler that exposes message
// parsing, idempotent disconnect, and a multi-consumer event stream.
package device

import (
	"context"
	"sync"

	"github.com/nerrad567/devicectl-core/internal/gcm"
	"github.com/nerrad567/devicectl-core/internal/infrastructure/logging"
	"github.com/nerrad567/devicectl-core/internal/messages"
)

// EventKind identifies the kind of DeviceEvent.
type EventKind string

const (
	// EventRemoved fires exactly once when a Device disconnects, for
	// whatever reason (client request, transport failure, index
	// collision eviction).
	EventRemoved EventKind = "Removed"

	// EventNotification is reserved for raw sensor/notification
	// forwarding; no protocol in this core emits it.
	EventNotification EventKind = "Notification"
)

// Event is broadcast on a Device's event stream.
type Event struct {
	Kind    EventKind
	Address string
	Data    []byte
}

// Transport is the minimal contract a Device needs from its underlying
// connection: an address for identity and a write primitive for framed
// command bytes. Scanning, connecting, and disconnecting live one layer
// up in the Communication Manager.
type Transport interface {
	Address() string
	Write(ctx context.Context, data []byte) error
}

// Protocol translates abstract device commands into transport writes for
// one hardware family. Each concrete protocol implements the subset of
// handle_* methods its hardware supports; unsupported kinds return
// ErrUnsupportedCommand.
type Protocol interface {
	HandleVibrateCmd(ctx context.Context, cmd messages.VibrateCmd) error
	HandleLinearCmd(ctx context.Context, cmd messages.LinearCmd) error
	HandleRotateCmd(ctx context.Context, cmd messages.RotateCmd) error
	HandleStopDeviceCmd(ctx context.Context) error
	HandleRawWriteCmd(ctx context.Context, cmd messages.RawWriteCmd) error
	HandleRawReadCmd(ctx context.Context, cmd messages.RawReadCmd) ([]byte, error)
	HandleRawSubscribeCmd(ctx context.Context, cmd messages.RawSubscribeCmd) error
}

// RawUnsupported is embedded by protocols whose hardware exposes no raw
// read/write/subscribe endpoints — every modeled protocol in this core,
// per the capability descriptors in use today.
type RawUnsupported struct{}

func (RawUnsupported) HandleRawWriteCmd(ctx context.Context, cmd messages.RawWriteCmd) error {
	return ErrUnsupportedCommand
}

func (RawUnsupported) HandleRawReadCmd(ctx context.Context, cmd messages.RawReadCmd) ([]byte, error) {
	return nil, ErrUnsupportedCommand
}

func (RawUnsupported) HandleRawSubscribeCmd(ctx context.Context, cmd messages.RawSubscribeCmd) error {
	return ErrUnsupportedCommand
}

// Device wraps a transport endpoint and its protocol handler, and is the
// unit the device manager event loop tracks in device_map.
//
// Thread Safety: the Parse* methods delegate to the protocol handler,
// which holds the GCM lock only across diff computation (never across
// transport writes), so writes from concurrent commands to the same
// device are not serialized. Disconnect and Subscribe are safe to call
// concurrently from any goroutine.
type Device struct {
	address    string
	name       string
	attributes gcm.CapabilityMap
	protocol   Protocol
	transport  Transport
	log        *logging.Logger

	disconnectOnce sync.Once

	subMu   sync.RWMutex
	subs    map[int]chan Event
	nextSub int
}

// New constructs a Device from its transport, protocol handler, and
// capability map. log may be nil, in which case a no-op logger is used.
func New(name string, attrs gcm.CapabilityMap, protocol Protocol, transport Transport, log *logging.Logger) *Device {
	if log == nil {
		log = logging.Noop()
	}
	return &Device{
		address:    transport.Address(),
		name:       name,
		attributes: attrs,
		protocol:   protocol,
		transport:  transport,
		log:        log,
		subs:       make(map[int]chan Event),
	}
}

// Address returns the device's transport-assigned identity.
func (d *Device) Address() string { return d.address }

// Name returns the device's display name.
func (d *Device) Name() string { return d.name }

// MessageAttributes returns the device's declared capability map.
func (d *Device) MessageAttributes() gcm.CapabilityMap { return d.attributes }

// ParseVibrateCmd dispatches a VibrateCmd to the protocol handler.
func (d *Device) ParseVibrateCmd(ctx context.Context, cmd messages.VibrateCmd) error {
	return d.protocol.HandleVibrateCmd(ctx, cmd)
}

// ParseLinearCmd dispatches a LinearCmd to the protocol handler.
func (d *Device) ParseLinearCmd(ctx context.Context, cmd messages.LinearCmd) error {
	return d.protocol.HandleLinearCmd(ctx, cmd)
}

// ParseRotateCmd dispatches a RotateCmd to the protocol handler.
func (d *Device) ParseRotateCmd(ctx context.Context, cmd messages.RotateCmd) error {
	return d.protocol.HandleRotateCmd(ctx, cmd)
}

// ParseStopDeviceCmd dispatches a StopDeviceCmd to the protocol handler.
// Always produces at least one transport write per the GCM's stop
// override.
func (d *Device) ParseStopDeviceCmd(ctx context.Context) error {
	return d.protocol.HandleStopDeviceCmd(ctx)
}

// ParseRawWriteCmd, ParseRawReadCmd, ParseRawSubscribeCmd dispatch raw
// endpoint commands. No protocol in this core supports them today; they
// return ErrUnsupportedCommand via RawUnsupported.
func (d *Device) ParseRawWriteCmd(ctx context.Context, cmd messages.RawWriteCmd) error {
	return d.protocol.HandleRawWriteCmd(ctx, cmd)
}

func (d *Device) ParseRawReadCmd(ctx context.Context, cmd messages.RawReadCmd) ([]byte, error) {
	return d.protocol.HandleRawReadCmd(ctx, cmd)
}

func (d *Device) ParseRawSubscribeCmd(ctx context.Context, cmd messages.RawSubscribeCmd) error {
	return d.protocol.HandleRawSubscribeCmd(ctx, cmd)
}

// Subscribe registers a new consumer on the device's event stream and
// returns its channel plus a cancel function that unregisters it. The
// channel is buffered; a consumer that falls behind will miss events
// rather than block the broadcaster.
func (d *Device) Subscribe(buffer int) (<-chan Event, func()) {
	d.subMu.Lock()
	id := d.nextSub
	d.nextSub++
	ch := make(chan Event, buffer)
	d.subs[id] = ch
	d.subMu.Unlock()

	cancel := func() {
		d.subMu.Lock()
		if existing, ok := d.subs[id]; ok {
			delete(d.subs, id)
			close(existing)
		}
		d.subMu.Unlock()
	}
	return ch, cancel
}

// broadcast fans an event out to every current subscriber. It snapshots
// the subscriber set under the lock, then sends outside the lock so a
// slow consumer cannot stall registration/unregistration of others.
func (d *Device) broadcast(ev Event) {
	d.subMu.RLock()
	targets := make([]chan Event, 0, len(d.subs))
	for _, ch := range d.subs {
		targets = append(targets, ch)
	}
	d.subMu.RUnlock()

	for _, ch := range targets {
		trySend(ch, ev)
	}
}

// trySend attempts a non-blocking send, dropping the event if the
// consumer's buffer is full, and recovering from a send on a channel
// that Subscribe's cancel function closed concurrently.
func trySend(ch chan Event, ev Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- ev:
	default:
	}
}

// Disconnect tears the device down. It is idempotent: regardless of how
// many times or from how many goroutines it is called, EventRemoved is
// broadcast exactly once.
func (d *Device) Disconnect() error {
	d.disconnectOnce.Do(func() {
		d.log.Info("device disconnecting", "address", d.address)
		d.broadcast(Event{Kind: EventRemoved, Address: d.address})
	})
	return nil
}
