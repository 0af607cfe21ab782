// Package dongle implements the dongle state machine: a cooperative
// state machine that drives a serial/HID-attached radio dongle through
// its scan / device-present / device-connected / error lifecycle, and
// bridges its two blocking I/O goroutines to the rest of the system
// through bounded channels.
package dongle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/devicectl-core/internal/commanager"
	"github.com/nerrad567/devicectl-core/internal/infrastructure/logging"
)

// readTimeout bounds each blocking read so the reader goroutine can
// observe cancellation promptly. Blocking reader threads cannot be
// interrupted mid-syscall; a short timeout plus a checked cancellation
// token is how termination stays bounded.
const readTimeout = 100 * time.Millisecond

// Connector is the blocking transport contract a concrete HID or serial
// backend satisfies. Out of scope for this core (spec.md names concrete
// transports as an external collaborator); Driver is exercised against a
// test double implementing this interface.
type Connector interface {
	// ReadReport blocks for up to timeout waiting for one inbound HID
	// report. When none arrives in time it returns an error whose
	// Timeout() bool method reports true (see timeoutError) — this is
	// not fatal. Any other error ends the reader.
	ReadReport(timeout time.Duration) ([]byte, error)
	WriteReport(report []byte) error
	Close() error
}

// Stats mirrors the operational counters a dongle connector exposes,
// surfaced through the admin HTTP router.
type Stats struct {
	MessagesTx   uint64
	MessagesRx   uint64
	ErrorsTotal  uint64
	LastActivity time.Time
	Connected    bool
}

// Driver owns one dongle's state machine, its two bridging goroutines
// (reader and writer), and satisfies commanager.Manager so the device
// manager event loop can treat it like any other transport backend.
//
// Thread Safety: StartScanning, StopScanning, ScanningStatus, and Stats
// are safe for concurrent use. Run must only be called once.
type Driver struct {
	name      string
	connector Connector // nil means "dongle not present at construction"
	log       *logging.Logger

	inbound  chan Input
	outbound chan []byte

	scanStatus *commanager.ScanningStatus

	cancel     chan struct{}
	cancelOnce sync.Once
	wg         sync.WaitGroup

	messagesTx   atomic.Uint64
	messagesRx   atomic.Uint64
	errorsTotal  atomic.Uint64
	lastActivity atomic.Int64
	connected    atomic.Bool
}

// New constructs a Driver. connector may be nil — Run will then emit a
// one-shot DongleAbsent event and return immediately, and StartScanning/
// StopScanning become no-ops, per spec.md's "dongle not present at
// construction" semantics.
func New(name string, connector Connector, bufferSize int, log *logging.Logger) *Driver {
	if log == nil {
		log = logging.Noop()
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Driver{
		name:       name,
		connector:  connector,
		log:        log,
		inbound:    make(chan Input, bufferSize),
		outbound:   make(chan []byte, bufferSize),
		scanStatus: commanager.NewScanningStatus(name),
		cancel:     make(chan struct{}),
	}
}

// Name returns the backend's stable identifier.
func (d *Driver) Name() string { return d.name }

// ScanningStatus returns this driver's shared atomic scanning flag.
func (d *Driver) ScanningStatus() *commanager.ScanningStatus { return d.scanStatus }

// Stats returns a snapshot of the driver's operational counters.
func (d *Driver) Stats() Stats {
	return Stats{
		MessagesTx:   d.messagesTx.Load(),
		MessagesRx:   d.messagesRx.Load(),
		ErrorsTotal:  d.errorsTotal.Load(),
		LastActivity: time.Unix(0, d.lastActivity.Load()),
		Connected:    d.connected.Load(),
	}
}

// Run drives the state machine until the connector is absent, an
// unrecoverable I/O error terminates the reader, or ctx is cancelled. It
// emits DeviceFound/ScanningStarted/ScanningFinished events on events as
// the state machine transitions.
func (d *Driver) Run(ctx context.Context, events chan<- commanager.Event) error {
	if d.connector == nil {
		d.log.Info("dongle absent at startup", "name", d.name)
		select {
		case events <- commanager.Event{Kind: commanager.EventDongleAbsent, Err: ErrDongleAbsent}:
		case <-ctx.Done():
		}
		return ErrDongleAbsent
	}

	d.connected.Store(true)
	defer d.connected.Store(false)

	select {
	case events <- commanager.Event{Kind: commanager.EventDeviceManagerAdded, Status: d.scanStatus}:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.wg.Add(2)
	go d.readerLoop()
	go d.writerLoop()

	machineCtx := &Context{
		Outbound:   d.outbound,
		Events:     events,
		ScanStatus: d.scanStatus,
		Log:        d.log,
	}

	var state State = WaitingForDongleState{}
	state, _ = state.Transition(machineCtx, Input{Kind: InputDongleFound})

	for {
		select {
		case <-ctx.Done():
			d.stop()
			d.wg.Wait()
			return ctx.Err()
		case in, ok := <-d.inbound:
			if !ok {
				panic("dongle: inbound channel closed; send is concurrent with readerLoop and must never observe a close")
			}
			next, cont := state.Transition(machineCtx, in)
			if !cont {
				d.stop()
				d.wg.Wait()
				return nil
			}
			state = next
		}
	}
}

// StartScanning enqueues a start-scan input. A no-op returning nil when
// the dongle is absent.
func (d *Driver) StartScanning(ctx context.Context) error {
	return d.send(ctx, Input{Kind: InputStartScanning})
}

// StopScanning enqueues a stop-scan input. A no-op returning nil when
// the dongle is absent.
func (d *Driver) StopScanning(ctx context.Context) error {
	return d.send(ctx, Input{Kind: InputStopScanning})
}

func (d *Driver) send(ctx context.Context, in Input) error {
	if d.connector == nil {
		return nil
	}
	select {
	case d.inbound <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.cancel:
		return nil
	}
}

// stop signals both bridging goroutines to exit and closes the
// connector, unblocking any pending read.
func (d *Driver) stop() {
	d.cancelOnce.Do(func() {
		close(d.cancel)
		if d.connector != nil {
			_ = d.connector.Close()
		}
	})
}

// readerLoop blocks on the connector with a short timeout so it can
// observe the cancellation token promptly, decodes complete NDJSON
// messages, and forwards them onto the bounded inbound channel.
//
// A fatal read error is reported by sending InputChannelClosed rather
// than closing d.inbound: d.inbound is also written to by send() from
// StartScanning/StopScanning, called concurrently from any goroutine,
// so only the cancellation token — never a channel close — may signal
// loop termination to a concurrent sender.
func (d *Driver) readerLoop() {
	defer d.wg.Done()
	decoder := &InboundDecoder{}

	for {
		select {
		case <-d.cancel:
			return
		default:
		}

		report, err := d.connector.ReadReport(readTimeout)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			d.errorsTotal.Add(1)
			d.log.Error("dongle read failed", "error", err)
			select {
			case d.inbound <- Input{Kind: InputChannelClosed}:
			case <-d.cancel:
			}
			return
		}

		d.messagesRx.Add(1)
		d.lastActivity.Store(time.Now().UnixNano())

		for _, line := range decoder.Feed(report) {
			select {
			case d.inbound <- Input{Kind: InputIncomingMessage, Raw: line}:
			case <-d.cancel:
				return
			}
		}
	}
}

// writerLoop consumes outbound NDJSON commands and frames+writes them as
// HID reports, honoring the cancellation token between writes.
func (d *Driver) writerLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.cancel:
			return
		case msg := <-d.outbound:
			for _, report := range FrameOutbound(msg) {
				if err := d.connector.WriteReport(report); err != nil {
					d.errorsTotal.Add(1)
					d.log.Error("dongle write failed", "error", err)
					continue
				}
				d.messagesTx.Add(1)
				d.lastActivity.Store(time.Now().UnixNano())
			}
		}
	}
}

// timeoutError is satisfied by a Connector's ReadReport error to signal
// a recoverable poll timeout rather than a fatal I/O failure.
type timeoutError interface {
	Timeout() bool
}

func isTimeout(err error) bool {
	te, ok := err.(timeoutError)
	return ok && te.Timeout()
}
