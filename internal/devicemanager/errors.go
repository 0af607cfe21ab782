package devicemanager

import "errors"

// ErrDeviceNotFound is returned when a client command addresses a
// device index with no live entry in device_map.
var ErrDeviceNotFound = errors.New("devicemanager: device not found")

// ErrNoMatchingProtocol is returned when a DeviceFound event cannot be
// matched to any known protocol/capability pairing.
var ErrNoMatchingProtocol = errors.New("devicemanager: no matching protocol")
