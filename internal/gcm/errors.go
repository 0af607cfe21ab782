package gcm

import "errors"

// ErrInvalidActuatorIndex is returned when a command addresses an
// actuator index at or beyond a device's feature_count for that kind.
var ErrInvalidActuatorIndex = errors.New("gcm: invalid actuator index")

// ErrFeatureNotSupported is returned when a command targets a command
// kind the device's capability map does not declare at all.
var ErrFeatureNotSupported = errors.New("gcm: feature not supported")
