package dongle

import "errors"

// ErrDongleAbsent is emitted as a one-shot event when no dongle is
// present at construction. It is not returned from StartScanning —
// scanning on a dongle-less driver is a no-op.
var ErrDongleAbsent = errors.New("dongle: not present")

// ErrConnectionFailed wraps a failure to open the underlying HID/serial
// connector.
var ErrConnectionFailed = errors.New("dongle: connection failed")

// ErrMalformedReport is returned when an inbound HID report cannot be
// decoded into a wire message.
var ErrMalformedReport = errors.New("dongle: malformed report")
