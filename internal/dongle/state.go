package dongle

import (
	"github.com/nerrad567/devicectl-core/internal/commanager"
	"github.com/nerrad567/devicectl-core/internal/infrastructure/logging"
)

// StateKind identifies one of the dongle state machine's discriminated
// states.
type StateKind string

const (
	StateWaitingForDongle StateKind = "WaitingForDongle"
	StateIdle             StateKind = "Idle"
	StateScanning         StateKind = "Scanning"
	StateDeviceConnected  StateKind = "DeviceConnected"
	StateDisconnected     StateKind = "Disconnected"
)

// InputKind identifies the kind of value arriving on the state machine's
// single input channel.
type InputKind string

const (
	InputDongleFound       InputKind = "DongleFound"
	InputStartScanning     InputKind = "StartScanning"
	InputStopScanning      InputKind = "StopScanning"
	InputIncomingMessage   InputKind = "IncomingMessage"
	InputDeviceDisconnected InputKind = "DeviceDisconnected"
	InputChannelClosed     InputKind = "ChannelClosed"
)

// Input is one value delivered to the state machine's driver loop.
type Input struct {
	Kind    InputKind
	Raw     []byte // populated for IncomingMessage
	Address string // populated for DeviceDisconnected
}

// Context carries the collaborators a state's Transition needs: a
// channel to the writer goroutine, the outbound event sink, the shared
// scanning-status flag, and a logger. It is shared by every state value
// across the machine's lifetime.
type Context struct {
	Outbound   chan<- []byte
	Events     chan<- commanager.Event
	ScanStatus *commanager.ScanningStatus
	Log        *logging.Logger
}

// State is a value-returning state: Transition consumes one Input and
// yields the next State. Returning ok=false terminates the driver loop.
// This avoids shared mutable state between states and makes the machine
// trivially testable by feeding scripted input sequences.
type State interface {
	Kind() StateKind
	Transition(c *Context, in Input) (next State, ok bool)
}

// WaitingForDongleState is the initial state before any dongle handle
// has been obtained.
type WaitingForDongleState struct{}

func (WaitingForDongleState) Kind() StateKind { return StateWaitingForDongle }

func (s WaitingForDongleState) Transition(c *Context, in Input) (State, bool) {
	switch in.Kind {
	case InputDongleFound:
		c.Log.Debug("dongle found, entering idle")
		return IdleState{}, true
	case InputChannelClosed:
		return nil, false
	default:
		return s, true
	}
}

// IdleState is entered once a dongle handle is available but no scan is
// in progress.
type IdleState struct{}

func (IdleState) Kind() StateKind { return StateIdle }

func (s IdleState) Transition(c *Context, in Input) (State, bool) {
	switch in.Kind {
	case InputStartScanning:
		c.Outbound <- scanCommand
		c.ScanStatus.Set(true)
		c.Events <- commanager.Event{Kind: commanager.EventScanningStarted}
		return ScanningState{}, true
	case InputChannelClosed:
		return nil, false
	default:
		return s, true
	}
}

// ScanningState is entered while this dongle is actively discovering
// devices.
type ScanningState struct{}

func (ScanningState) Kind() StateKind { return StateScanning }

func (s ScanningState) Transition(c *Context, in Input) (State, bool) {
	switch in.Kind {
	case InputIncomingMessage:
		msg, err := parseWireMessage(in.Raw)
		if err != nil {
			c.Log.Debug("dropping malformed report", "error", err)
			return s, true
		}
		switch msg.Type {
		case wireTypeDeviceListEntry:
			c.Events <- commanager.Event{
				Kind:    commanager.EventDeviceFound,
				Name:    msg.Name,
				Address: msg.Address,
			}
			return s, true
		case wireTypeStatus:
			if msg.Status == wireStatusScanningFinished {
				c.ScanStatus.Set(false)
				c.Events <- commanager.Event{Kind: commanager.EventScanningFinished}
				return IdleState{}, true
			}
			return s, true
		default:
			return s, true
		}
	case InputStopScanning:
		c.Outbound <- stopScanCommand
		c.ScanStatus.Set(false)
		c.Events <- commanager.Event{Kind: commanager.EventScanningFinished}
		return IdleState{}, true
	case InputChannelClosed:
		return nil, false
	default:
		return s, true
	}
}

// DeviceConnectedState tracks a dongle that is bridging traffic for one
// connected device. Present for completeness with the data model's state
// union; this representative dongle's transition table does not exercise
// it (scanning backends in this core hand connected devices off to the
// device manager rather than holding per-device state in the dongle
// itself).
type DeviceConnectedState struct {
	Address string
}

func (DeviceConnectedState) Kind() StateKind { return StateDeviceConnected }

func (s DeviceConnectedState) Transition(c *Context, in Input) (State, bool) {
	switch in.Kind {
	case InputDeviceDisconnected:
		if in.Address == s.Address {
			return IdleState{}, true
		}
		return s, true
	case InputChannelClosed:
		return nil, false
	default:
		return s, true
	}
}

// DisconnectedState is terminal: any input causes the driver loop to
// exit.
type DisconnectedState struct{}

func (DisconnectedState) Kind() StateKind { return StateDisconnected }

func (DisconnectedState) Transition(c *Context, in Input) (State, bool) {
	return nil, false
}
