package device

import (
	"context"
	"fmt"

	"github.com/nerrad567/devicectl-core/internal/gcm"
	"github.com/nerrad567/devicectl-core/internal/messages"
)

// vibrateOpcode is the framing byte shared by every write this protocol
// emits: [opcode, addr, value].
const vibrateOpcode = 0xF3

// DualMotorVibrator is the representative protocol for a two-actuator
// vibrator with both a combined ("both motors") and a per-motor
// addressing mode. Grounded on the Lovehoney Desire hardware family.
//
// RawUnsupported is embedded because this hardware exposes no raw
// endpoints.
type DualMotorVibrator struct {
	RawUnsupported

	manager   *gcm.Manager
	transport Transport
}

// NewDualMotorVibrator constructs the protocol from its capability map
// and transport. The capability map must declare gcm.KindVibrate with a
// feature_count of 2.
func NewDualMotorVibrator(caps gcm.CapabilityMap, transport Transport) *DualMotorVibrator {
	return &DualMotorVibrator{
		manager:   gcm.New(caps),
		transport: transport,
	}
}

// HandleVibrateCmd implements the combined-vs-per-motor addressing
// logic: if every actuator in the diff is present and shares the same
// value, a single "both motors" write is emitted; otherwise each changed
// actuator is written individually, in ascending index order, each
// awaiting acknowledgement before the next begins.
func (p *DualMotorVibrator) HandleVibrateCmd(ctx context.Context, cmd messages.VibrateCmd) error {
	vals, err := p.manager.UpdateVibration(cmd, false)
	if err != nil {
		return err
	}
	if vals == nil {
		return nil
	}
	return p.writeDiff(ctx, vals)
}

// HandleLinearCmd is unsupported: this hardware has no linear actuators.
func (p *DualMotorVibrator) HandleLinearCmd(ctx context.Context, cmd messages.LinearCmd) error {
	return ErrUnsupportedCommand
}

// HandleRotateCmd is unsupported: this hardware has no rotating actuators.
func (p *DualMotorVibrator) HandleRotateCmd(ctx context.Context, cmd messages.RotateCmd) error {
	return ErrUnsupportedCommand
}

// HandleStopDeviceCmd zeroes every actuator. It diffs the synthesized
// stop command against the GCM's cache exactly like any other vibrate
// command — actuators already at zero produce no write — and only
// forces a write when the diff would otherwise be completely empty, so
// the stop command is guaranteed to reach the hardware at least once
// even when every actuator already matches its target.
func (p *DualMotorVibrator) HandleStopDeviceCmd(ctx context.Context) error {
	stop := p.manager.GetStopCommands()
	if stop.Vibrate == nil {
		return nil
	}

	vals, err := p.manager.UpdateVibration(*stop.Vibrate, false)
	if err != nil {
		return err
	}
	if vals == nil {
		vals = p.manager.ForceVibrationWrite()
		if vals == nil {
			return nil
		}
	}
	return p.writeDiff(ctx, vals)
}

// writeDiff picks combined vs. per-motor framing and issues the writes
// sequentially, each awaiting acknowledgement before the next begins.
func (p *DualMotorVibrator) writeDiff(ctx context.Context, vals []*int) error {
	if allEqualAndPresent(vals) {
		frame := []byte{vibrateOpcode, 0x00, byte(*vals[0])}
		if err := p.transport.Write(ctx, frame); err != nil {
			return fmt.Errorf("%w: %v", ErrDeviceCommunicationError, err)
		}
		return nil
	}

	for i, v := range vals {
		if v == nil {
			continue
		}
		frame := []byte{vibrateOpcode, byte(i + 1), byte(*v)}
		if err := p.transport.Write(ctx, frame); err != nil {
			return fmt.Errorf("%w: %v", ErrDeviceCommunicationError, err)
		}
	}
	return nil
}

// allEqualAndPresent reports whether every entry is non-nil and equal to
// vals[0] — the condition under which the combined "both motors" opcode
// may be used instead of per-motor writes.
func allEqualAndPresent(vals []*int) bool {
	if len(vals) == 0 || vals[0] == nil {
		return false
	}
	for _, v := range vals[1:] {
		if v == nil || *v != *vals[0] {
			return false
		}
	}
	return true
}
