package gcm

import (
	"errors"
	"math"
	"testing"

	"github.com/nerrad567/devicectl-core/internal/messages"
)

func dualMotorCaps() CapabilityMap {
	return CapabilityMap{
		KindVibrate: {FeatureCount: 2, StepCount: []int{20, 20}},
	}
}

func TestUpdateVibration_SingleActuatorChange(t *testing.T) {
	m := New(dualMotorCaps())

	out, err := m.UpdateVibration(messages.VibrateCmd{Speeds: []messages.SpeedCmd{
		{Index: 0, Speed: 0.5},
	}}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out == nil || out[0] == nil || *out[0] != 10 {
		t.Fatalf("expected actuator 0 = 10, got %+v", out)
	}
	if out[1] != nil {
		t.Fatalf("expected actuator 1 untouched, got %v", out[1])
	}
}

func TestUpdateVibration_EqualValuesCombined(t *testing.T) {
	m := New(dualMotorCaps())

	out, err := m.UpdateVibration(messages.VibrateCmd{Speeds: []messages.SpeedCmd{
		{Index: 0, Speed: 0.1},
		{Index: 1, Speed: 0.1},
	}}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *out[0] != 2 || *out[1] != 2 {
		t.Fatalf("expected both actuators = 2, got %+v %+v", out[0], out[1])
	}
}

func TestUpdateVibration_NoChangeReturnsNil(t *testing.T) {
	m := New(dualMotorCaps())

	cmd := messages.VibrateCmd{Speeds: []messages.SpeedCmd{{Index: 0, Speed: 0.5}}}
	if _, err := m.UpdateVibration(cmd, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := m.UpdateVibration(cmd, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil (invariant 1: no transport writes on repeat), got %+v", out)
	}
}

func TestUpdateVibration_InvalidActuatorIndex(t *testing.T) {
	m := New(dualMotorCaps())

	_, err := m.UpdateVibration(messages.VibrateCmd{Speeds: []messages.SpeedCmd{
		{Index: 5, Speed: 0.5},
	}}, false)
	if !errors.Is(err, ErrInvalidActuatorIndex) {
		t.Fatalf("expected ErrInvalidActuatorIndex, got %v", err)
	}
}

func TestUpdateVibration_FeatureNotSupported(t *testing.T) {
	m := New(CapabilityMap{})

	_, err := m.UpdateVibration(messages.VibrateCmd{Speeds: []messages.SpeedCmd{
		{Index: 0, Speed: 0.5},
	}}, false)
	if !errors.Is(err, ErrFeatureNotSupported) {
		t.Fatalf("expected ErrFeatureNotSupported, got %v", err)
	}
}

func TestResetVibrationCache_ForcesRewrite(t *testing.T) {
	m := New(dualMotorCaps())

	cmd := messages.VibrateCmd{Speeds: []messages.SpeedCmd{
		{Index: 0, Speed: 0.0},
		{Index: 1, Speed: 0.0},
	}}
	if _, err := m.UpdateVibration(cmd, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m.ResetVibrationCache()

	out, err := m.UpdateVibration(cmd, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out == nil || out[0] == nil || out[1] == nil {
		t.Fatalf("expected every actuator rewritten after ResetVibrationCache, got %+v", out)
	}
}

func TestGetStopCommands(t *testing.T) {
	m := New(dualMotorCaps())
	stop := m.GetStopCommands()
	if stop.Vibrate == nil {
		t.Fatal("expected a vibrate stop command")
	}
	if len(stop.Vibrate.Speeds) != 2 {
		t.Fatalf("expected 2 speeds, got %d", len(stop.Vibrate.Speeds))
	}
	for _, s := range stop.Vibrate.Speeds {
		if s.Speed != 0 {
			t.Fatalf("expected all-zero stop command, got %+v", s)
		}
	}
	if stop.Linear != nil || stop.Rotate != nil {
		t.Fatalf("expected no linear/rotate stop commands for a vibrate-only device")
	}
}

func TestQuantizeRoundTrip(t *testing.T) {
	steps := []int{1, 3, 20, 255}
	for _, step := range steps {
		for i := 0; i <= 100; i++ {
			speed := float64(i) / 100.0
			q := quantize(speed, step)
			back := float64(q) / float64(step)
			tolerance := 1.0 / (2.0 * float64(step))
			if math.Abs(back-speed) > tolerance+1e-9 {
				t.Fatalf("quantize round-trip out of tolerance: speed=%v step=%v q=%v back=%v tol=%v",
					speed, step, q, back, tolerance)
			}
		}
	}
}
