// Package commanager defines the Communication Manager contract: the
// interface every transport backend (BLE, dongle, test double) satisfies
// to participate in device discovery.
package commanager

import (
	"context"
	"sync/atomic"

	"github.com/nerrad567/devicectl-core/internal/device"
)

// EventKind identifies the kind of DeviceCommunicationEvent.
type EventKind string

const (
	EventScanningStarted    EventKind = "ScanningStarted"
	EventScanningFinished   EventKind = "ScanningFinished"
	EventDeviceFound        EventKind = "DeviceFound"
	EventDeviceManagerAdded EventKind = "DeviceManagerAdded"

	// EventDongleAbsent is a one-shot event a dongle-backed manager emits
	// at startup when no dongle hardware was present at construction.
	// Not part of every backend's contract — only dongle-mediated
	// transports report it.
	EventDongleAbsent EventKind = "DongleAbsent"
)

// Event is emitted by a Manager onto the channel it was constructed
// with. Kind selects which of the kind-specific field groups below is
// populated; ScanningStarted and ScanningFinished carry none.
type Event struct {
	Kind EventKind

	// DeviceFound fields.
	Name    string
	Address string
	Creator DeviceCreator

	// DeviceManagerAdded field: the backend's live scanning-status flag.
	Status *ScanningStatus

	// DongleAbsent field.
	Err error
}

// DeviceCreator matches a DeviceFound event to a concrete Protocol/
// Transport pairing. Implementations live alongside their transport.
type DeviceCreator interface {
	// CreateDevice attempts to build a *device.Device for the given
	// address. Returns an error if no known protocol matches.
	CreateDevice(ctx context.Context) (*device.Device, error)
}

// ScanningStatus is a shared atomic flag: true while its owning backend
// is actively scanning. The device manager event loop reads it; only the
// owning backend writes it.
type ScanningStatus struct {
	name string
	flag atomic.Bool
}

// NewScanningStatus constructs a named, initially-false status flag.
func NewScanningStatus(name string) *ScanningStatus {
	return &ScanningStatus{name: name}
}

// Name identifies which backend owns this status, for logging/admin use.
func (s *ScanningStatus) Name() string { return s.name }

// Load reports the current scanning state.
func (s *ScanningStatus) Load() bool { return s.flag.Load() }

// Set updates the scanning state. Only the owning backend should call
// this; the device manager event loop only ever reads it.
func (s *ScanningStatus) Set(v bool) { s.flag.Store(v) }

// Manager is the contract every transport backend satisfies.
type Manager interface {
	// Name returns a stable, human-readable backend identifier.
	Name() string

	// StartScanning begins device discovery. A no-op returning nil on a
	// backend with no attached hardware (e.g. a dongle-less manager).
	StartScanning(ctx context.Context) error

	// StopScanning ends device discovery.
	StopScanning(ctx context.Context) error

	// ScanningStatus returns the backend's shared atomic scanning flag.
	ScanningStatus() *ScanningStatus
}
