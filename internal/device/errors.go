package device

import "errors"

// ErrUnsupportedCommand is returned by a protocol's handle_* method when
// the underlying hardware family does not implement that command kind.
var ErrUnsupportedCommand = errors.New("device: unsupported command")

// ErrDeviceCommunicationError wraps a transport write failure surfaced
// from a protocol handler.
var ErrDeviceCommunicationError = errors.New("device: communication error")
