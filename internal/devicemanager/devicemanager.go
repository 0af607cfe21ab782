// Package devicemanager implements the device manager event loop: the
// single-threaded owner of the live device population, responsible for
// stable index assignment across reconnects, deduplicated scan lifecycle
// aggregation, and relaying device lifecycle events to clients.
package devicemanager

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/devicectl-core/internal/commanager"
	"github.com/nerrad567/devicectl-core/internal/device"
	"github.com/nerrad567/devicectl-core/internal/gcm"
	"github.com/nerrad567/devicectl-core/internal/infrastructure/logging"
	"github.com/nerrad567/devicectl-core/internal/messages"
	"github.com/nerrad567/devicectl-core/internal/pingtimer"
)

// Broadcaster delivers server events to every connected client. The
// reference implementation is internal/gateway/ws.Hub; tests use a fake.
type Broadcaster interface {
	Broadcast(msg any)
}

// DeviceEventKind identifies the kind of internal DeviceEvent flowing
// from device-creation tasks and event-forwarding tasks back into the
// loop.
type DeviceEventKind string

const (
	DeviceEventConnected     DeviceEventKind = "Connected"
	DeviceEventRemoved       DeviceEventKind = "Removed"
	DeviceEventNotification  DeviceEventKind = "Notification"
)

// DeviceEvent is the internal counterpart to commanager.Event: it flows
// from device-creation and event-forwarding tasks into the loop, rather
// than from a transport backend.
type DeviceEvent struct {
	Kind    DeviceEventKind
	Device  *device.Device
	Address string
}

// Config bundles the construction-time parameters of an EventLoop.
type Config struct {
	AllowList         []string
	DenyList          []string
	MaxPingIntervalMS int
	ChannelBufferSize int
}

// EventLoop owns device_map, device_index_map, the index generator, the
// allow/deny lists, and the scanning aggregate state. It runs a single
// goroutine multiplexing three event sources: the ping timeout, the
// communication-event channel, and the device-event channel.
//
// Thread Safety: GetDevice, ListDevices, and Pinged are safe to call
// from any goroutine. Run must only be called once; all device_map
// mutation happens on its goroutine.
type EventLoop struct {
	mapMu          sync.RWMutex
	deviceMap      map[uint32]*device.Device
	deviceIndexMap map[string]uint32
	nextIndex      uint32

	allowList map[string]struct{}
	denyList  map[string]struct{}

	pingTimer         *pingtimer.Timer
	maxPingInterval   time.Duration

	scanningInProgress bool
	scanStatuses       []*commanager.ScanningStatus

	commEvents   chan commanager.Event
	deviceEvents chan DeviceEvent

	broadcaster Broadcaster
	log         *logging.Logger

	wg sync.WaitGroup
}

// New constructs an EventLoop. commEvents is the channel every
// Communication Manager backend was constructed with; broadcaster
// fans server messages out to clients; log may be nil.
func New(cfg Config, commEvents chan commanager.Event, broadcaster Broadcaster, log *logging.Logger) *EventLoop {
	if log == nil {
		log = logging.Noop()
	}
	bufSize := cfg.ChannelBufferSize
	if bufSize <= 0 {
		bufSize = 256
	}

	maxPingInterval := time.Duration(cfg.MaxPingIntervalMS) * time.Millisecond

	el := &EventLoop{
		deviceMap:       make(map[uint32]*device.Device),
		deviceIndexMap:  make(map[string]uint32),
		allowList:       toSet(cfg.AllowList),
		denyList:        toSet(cfg.DenyList),
		pingTimer:       pingtimer.New(maxPingInterval),
		maxPingInterval: maxPingInterval,
		commEvents:      commEvents,
		deviceEvents:    make(chan DeviceEvent, bufSize),
		broadcaster:     broadcaster,
		log:             log,
	}
	return el
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, i := range items {
		out[i] = struct{}{}
	}
	return out
}

// Pinged resets the ping deadman switch. Called whenever a client Ping
// message arrives.
func (el *EventLoop) Pinged() {
	el.pingTimer.Pinged()
}

// GetDevice returns the live device at index, or ErrDeviceNotFound.
func (el *EventLoop) GetDevice(index uint32) (*device.Device, error) {
	el.mapMu.RLock()
	defer el.mapMu.RUnlock()
	d, ok := el.deviceMap[index]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d, nil
}

// ListDevices returns a snapshot of every live device, for DeviceList
// responses.
func (el *EventLoop) ListDevices() []messages.DeviceInfo {
	el.mapMu.RLock()
	defer el.mapMu.RUnlock()
	out := make([]messages.DeviceInfo, 0, len(el.deviceMap))
	for idx, d := range el.deviceMap {
		out = append(out, messages.DeviceInfo{
			DeviceIndex:    idx,
			DeviceName:     d.Name(),
			DeviceMessages: attrsToMessages(d.MessageAttributes()),
		})
	}
	return out
}

// DeviceCount returns the number of live devices, for admin/metrics use.
func (el *EventLoop) DeviceCount() int {
	el.mapMu.RLock()
	defer el.mapMu.RUnlock()
	return len(el.deviceMap)
}

// Run drives the event loop until ctx is cancelled or commEvents is
// closed by its owner (cmd/devicectld closes it during shutdown; no
// backend closes it). Closure of the internal deviceEvents channel is a
// bug, since this loop owns it and never closes it; that case is treated
// as a fatal assertion.
func (el *EventLoop) Run(ctx context.Context) error {
	defer el.pingTimer.Stop()
	defer el.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-el.pingTimer.TimeoutC():
			el.handlePingTimeout(ctx)
			// TimeoutC closes permanently once fired; a fired deadman
			// switch stops devices but the loop keeps running, so a new
			// Timer is armed to keep watching for the next gap in pings.
			el.pingTimer = pingtimer.New(el.maxPingInterval)

		case ev, ok := <-el.commEvents:
			if !ok {
				el.log.Info("communication event channel closed, stopping event loop")
				return nil
			}
			el.handleCommunicationEvent(ctx, ev)

		case ev, ok := <-el.deviceEvents:
			if !ok {
				panic("devicemanager: device event channel closed; this loop owns it and never closes it")
			}
			el.handleDeviceEvent(ev)
		}
	}
}

func (el *EventLoop) handleCommunicationEvent(ctx context.Context, ev commanager.Event) {
	switch ev.Kind {
	case commanager.EventScanningStarted:
		el.scanningInProgress = true

	case commanager.EventScanningFinished:
		if !el.scanningInProgress {
			return // spurious or racing with a second backend
		}
		for _, s := range el.scanStatuses {
			if s.Load() {
				return
			}
		}
		el.scanningInProgress = false
		el.broadcast(messages.NewScanningFinished())

	case commanager.EventDeviceFound:
		el.handleDeviceFound(ctx, ev)

	case commanager.EventDeviceManagerAdded:
		if ev.Status != nil {
			el.scanStatuses = append(el.scanStatuses, ev.Status)
		}

	case commanager.EventDongleAbsent:
		el.log.Info("backend reports no dongle present", "error", ev.Err)
	}
}

func (el *EventLoop) handleDeviceFound(ctx context.Context, ev commanager.Event) {
	if _, denied := el.denyList[ev.Address]; denied {
		return
	}
	if len(el.allowList) > 0 {
		if _, allowed := el.allowList[ev.Address]; !allowed {
			return
		}
	}
	if el.isLive(ev.Address) {
		return // already connected
	}
	if ev.Creator == nil {
		el.log.Error("device found with no creator, dropping", "address", ev.Address)
		return
	}

	el.wg.Add(1)
	go func() {
		defer el.wg.Done()
		d, err := ev.Creator.CreateDevice(ctx)
		if err != nil {
			el.log.Error("failed to create device, dropping", "address", ev.Address, "error", err)
			return
		}
		select {
		case el.deviceEvents <- DeviceEvent{Kind: DeviceEventConnected, Device: d}:
		case <-ctx.Done():
		}
	}()
}

// isLive reports whether device_map already has a live entry for
// address: the index map persists across disconnects for reconnect
// stability, so liveness requires both mappings to agree.
func (el *EventLoop) isLive(address string) bool {
	el.mapMu.RLock()
	defer el.mapMu.RUnlock()
	idx, ok := el.deviceIndexMap[address]
	if !ok {
		return false
	}
	_, ok = el.deviceMap[idx]
	return ok
}

func (el *EventLoop) handleDeviceEvent(ev DeviceEvent) {
	switch ev.Kind {
	case DeviceEventConnected:
		el.handleConnected(ev.Device)
	case DeviceEventRemoved:
		el.handleRemoved(ev.Address)
	case DeviceEventNotification:
		// Reserved for raw sensor forwarding; no-op.
	}
}

func (el *EventLoop) handleConnected(d *device.Device) {
	address := d.Address()

	el.mapMu.Lock()
	idx, reused := el.deviceIndexMap[address]
	if !reused {
		idx = el.nextIndex
		el.nextIndex++
		el.deviceIndexMap[address] = idx
	}
	existing, collided := el.deviceMap[idx]
	if collided {
		delete(el.deviceMap, idx)
	}
	el.deviceMap[idx] = d
	el.mapMu.Unlock()

	if collided {
		// Index-reuse ordering hazard (see DESIGN.md): the new device's
		// DeviceAdded broadcast below may reach clients before this
		// disconnect's Removed does. Inherited from the source design,
		// not resolved here.
		if err := existing.Disconnect(); err != nil {
			el.log.Error("error disconnecting collided device", "index", idx, "error", err)
		}
	}

	el.spawnForwarder(d)

	el.broadcast(messages.NewDeviceAdded(idx, d.Name(), attrsToMessages(d.MessageAttributes())))
}

func (el *EventLoop) handleRemoved(address string) {
	el.mapMu.Lock()
	idx, ok := el.deviceIndexMap[address]
	if !ok {
		el.mapMu.Unlock()
		el.log.Error("Removed for unknown address, dropping", "address", address)
		return
	}
	delete(el.deviceMap, idx)
	el.mapMu.Unlock()

	el.broadcast(messages.NewDeviceRemoved(idx))
}

// spawnForwarder pipes a device's event stream into the loop's internal
// device-event channel, translating device.Event into DeviceEvent.
func (el *EventLoop) spawnForwarder(d *device.Device) {
	ch, cancel := d.Subscribe(16)
	el.wg.Add(1)
	go func() {
		defer el.wg.Done()
		defer cancel()
		for ev := range ch {
			if ev.Kind == device.EventRemoved {
				el.deviceEvents <- DeviceEvent{Kind: DeviceEventRemoved, Address: ev.Address}
				return
			}
		}
	}()
}

// handlePingTimeout issues StopDeviceCmd to every live device
// concurrently. Per-device errors are logged; the device map is never
// torn down by a ping timeout.
func (el *EventLoop) handlePingTimeout(ctx context.Context) {
	el.mapMu.RLock()
	devices := make([]*device.Device, 0, len(el.deviceMap))
	for _, d := range el.deviceMap {
		devices = append(devices, d)
	}
	el.mapMu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range devices {
		d := d
		g.Go(func() error {
			if err := d.ParseStopDeviceCmd(gctx); err != nil {
				el.log.Error("ping timeout stop command failed", "address", d.Address(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (el *EventLoop) broadcast(msg any) {
	if el.broadcaster == nil {
		return
	}
	el.broadcaster.Broadcast(msg)
}

func attrsToMessages(caps gcm.CapabilityMap) map[string]any {
	out := make(map[string]any, len(caps))
	for kind, attrs := range caps {
		out[string(kind)] = map[string]any{
			"feature_count": attrs.FeatureCount,
			"step_count":    attrs.StepCount,
		}
	}
	return out
}
