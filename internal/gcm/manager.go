// Package gcm implements the generic command manager: a per-device cache
// of last-sent actuator values used to deduplicate redundant writes and
// to synthesize stop commands.
package gcm

import (
	"math"
	"sync"

	"github.com/nerrad567/devicectl-core/internal/messages"
)

// CommandKind identifies one of the actuator command families a device
// may support.
type CommandKind string

const (
	KindVibrate CommandKind = "vibrate"
	KindLinear  CommandKind = "linear"
	KindRotate  CommandKind = "rotate"
)

// Attributes describes one command kind's actuator layout: how many
// independently addressable actuators it has, and the maximum integer
// value (step count) each one accepts.
type Attributes struct {
	FeatureCount int
	StepCount    []int
}

// CapabilityMap is a device's full declared command surface.
type CapabilityMap map[CommandKind]Attributes

// Manager is the per-device cache and deduplicator. One Manager is
// constructed per live Device and shares that device's lifetime.
//
// Thread Safety: Manager is safe for concurrent use. The lock is held
// only across the diff computation in each update_* call — never across
// a transport write, so a slow write on one device cannot stall a
// concurrent stop command for the same device behind a held mutex.
type Manager struct {
	mu   sync.Mutex
	caps CapabilityMap

	// current[kind][i] is the last acknowledged quantized value for
	// actuator i, or nil if no value has ever been written (None).
	current map[CommandKind][]*int
}

// New builds a Manager from a device's capability map, precomputing the
// current-value cache (all entries None).
func New(caps CapabilityMap) *Manager {
	current := make(map[CommandKind][]*int, len(caps))
	for kind, attrs := range caps {
		current[kind] = make([]*int, attrs.FeatureCount)
	}
	return &Manager{caps: caps, current: current}
}

// quantize rounds a normalized speed in [0.0, 1.0] to an integer in
// [0, step]. Rounding is round-half-away-from-zero (math.Round); since
// speed*step is never negative here this is equivalent to round-half-up.
func quantize(speed float64, step int) int {
	return int(math.Round(speed * float64(step)))
}

// UpdateVibration applies a VibrateCmd against the cache. It returns nil
// and a nil error if every addressed actuator already holds the
// requested value (the caller must emit nothing). Otherwise it returns a
// slice of length feature_count where non-nil entries carry the
// quantized value to write and nil entries mean "unchanged, skip".
//
// If matchAll is true, any change forces every entry in the returned
// slice to be populated with the actuator's current (now updated) value
// — used by protocols that cannot write partial state.
func (m *Manager) UpdateVibration(cmd messages.VibrateCmd, matchAll bool) ([]*int, error) {
	pairs := make([]indexSpeed, len(cmd.Speeds))
	for i, s := range cmd.Speeds {
		pairs[i] = indexSpeed{index: s.Index, speed: s.Speed}
	}
	return m.update(KindVibrate, pairs, matchAll)
}

// UpdateLinear applies a LinearCmd against the cache. Position is the
// normalized value quantized against step_count; duration is not cached
// or returned (the cache only deduplicates on position).
func (m *Manager) UpdateLinear(cmd messages.LinearCmd, matchAll bool) ([]*int, error) {
	pairs := make([]indexSpeed, len(cmd.Vectors))
	for i, v := range cmd.Vectors {
		pairs[i] = indexSpeed{index: v.Index, speed: v.Position}
	}
	return m.update(KindLinear, pairs, matchAll)
}

// UpdateRotation applies a RotateCmd against the cache. The cache
// deduplicates on speed alone: Clockwise is not cached or returned, so a
// command that only reverses direction reports no change.
func (m *Manager) UpdateRotation(cmd messages.RotateCmd, matchAll bool) ([]*int, error) {
	pairs := make([]indexSpeed, len(cmd.Rotations))
	for i, r := range cmd.Rotations {
		pairs[i] = indexSpeed{index: r.Index, speed: r.Speed}
	}
	return m.update(KindRotate, pairs, matchAll)
}

type indexSpeed struct {
	index uint32
	speed float64
}

func (m *Manager) update(kind CommandKind, pairs []indexSpeed, matchAll bool) ([]*int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	attrs, ok := m.caps[kind]
	if !ok {
		return nil, ErrFeatureNotSupported
	}

	for _, p := range pairs {
		if int(p.index) >= attrs.FeatureCount {
			return nil, ErrInvalidActuatorIndex
		}
	}

	cache := m.current[kind]
	out := make([]*int, attrs.FeatureCount)
	changed := false

	for _, p := range pairs {
		q := quantize(p.speed, attrs.StepCount[p.index])
		if cache[p.index] != nil && *cache[p.index] == q {
			continue
		}
		changed = true
		v := q
		cache[p.index] = &v
		out[p.index] = &v
	}

	if !changed {
		return nil, nil
	}

	if matchAll {
		for i := range out {
			if cache[i] != nil {
				v := *cache[i]
				out[i] = &v
			}
		}
	}

	return out, nil
}

// ResetVibrationCache clears every cached vibration value to None. The
// next UpdateVibration call will therefore treat every addressed
// actuator as changed, forcing output regardless of its prior value.
func (m *Manager) ResetVibrationCache() {
	m.reset(KindVibrate)
}

// ResetLinearCache clears every cached linear-position value to None.
func (m *Manager) ResetLinearCache() {
	m.reset(KindLinear)
}

// ResetRotationCache clears every cached rotation value to None.
func (m *Manager) ResetRotationCache() {
	m.reset(KindRotate)
}

// ForceVibrationWrite returns a single-entry diff re-asserting actuator
// 0's current cached vibration value (0 if never written), without
// touching the cache for any other actuator. Used by a protocol's stop
// handler to guarantee at least one transport write when every actuator
// already matches its stop target and UpdateVibration's own diff would
// otherwise be empty.
func (m *Manager) ForceVibrationWrite() []*int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cache := m.current[KindVibrate]
	if len(cache) == 0 {
		return nil
	}
	v := 0
	if cache[0] != nil {
		v = *cache[0]
	}
	out := make([]*int, len(cache))
	out[0] = &v
	return out
}

func (m *Manager) reset(kind CommandKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cache, ok := m.current[kind]
	if !ok {
		return
	}
	for i := range cache {
		cache[i] = nil
	}
}

// StopCommands is the set of all-zero commands, one per command kind the
// device's capability map declares.
type StopCommands struct {
	Vibrate *messages.VibrateCmd
	Linear  *messages.LinearCmd
	Rotate  *messages.RotateCmd
}

// GetStopCommands builds, from the capability map, the commands that
// zero every actuator across every supported kind. They are built anew
// on each call; nothing is computed at construction.
func (m *Manager) GetStopCommands() StopCommands {
	var out StopCommands

	if attrs, ok := m.caps[KindVibrate]; ok {
		speeds := make([]messages.SpeedCmd, attrs.FeatureCount)
		for i := range speeds {
			speeds[i] = messages.SpeedCmd{Index: uint32(i), Speed: 0}
		}
		cmd := messages.VibrateCmd{Speeds: speeds}
		out.Vibrate = &cmd
	}

	if attrs, ok := m.caps[KindLinear]; ok {
		vectors := make([]messages.LinearVector, attrs.FeatureCount)
		for i := range vectors {
			vectors[i] = messages.LinearVector{Index: uint32(i), Position: 0, Duration: 0}
		}
		cmd := messages.LinearCmd{Vectors: vectors}
		out.Linear = &cmd
	}

	if attrs, ok := m.caps[KindRotate]; ok {
		rotations := make([]messages.RotateVector, attrs.FeatureCount)
		for i := range rotations {
			rotations[i] = messages.RotateVector{Index: uint32(i), Speed: 0, Clockwise: false}
		}
		cmd := messages.RotateCmd{Rotations: rotations}
		out.Rotate = &cmd
	}

	return out
}

// Capabilities returns the capability map the manager was constructed
// with, for use by protocol handlers deciding which handle_* methods to
// expose.
func (m *Manager) Capabilities() CapabilityMap {
	return m.caps
}
