// Package messages defines the client/server protocol: a tagged union of
// request, response, and event payloads multiplexed over one connection.
//
// Every request carries a non-zero Id; the matching response echoes it.
// Events carry Id 0.
package messages

// Kind identifies the concrete payload carried by an Envelope.
type Kind string

const (
	KindRequestServerInfo Kind = "RequestServerInfo"
	KindOk                Kind = "Ok"
	KindError             Kind = "Error"
	KindStartScanning     Kind = "StartScanning"
	KindStopScanning      Kind = "StopScanning"
	KindScanningFinished  Kind = "ScanningFinished"
	KindDeviceList        Kind = "DeviceList"
	KindDeviceAdded       Kind = "DeviceAdded"
	KindDeviceRemoved     Kind = "DeviceRemoved"
	KindStopDeviceCmd     Kind = "StopDeviceCmd"
	KindStopAllDevices    Kind = "StopAllDevices"
	KindVibrateCmd        Kind = "VibrateCmd"
	KindLinearCmd         Kind = "LinearCmd"
	KindRotateCmd         Kind = "RotateCmd"
	KindRawWriteCmd       Kind = "RawWriteCmd"
	KindRawReadCmd        Kind = "RawReadCmd"
	KindRawSubscribeCmd   Kind = "RawSubscribeCmd"
	KindPing              Kind = "Ping"
)

// Envelope is the outer shape of every message exchanged over the
// protocol: a numeric id, a Kind tag, and the one payload that Kind
// selects.
//
// Encoding/transport is an external collaborator; Envelope is the shape
// a gateway (internal/gateway/ws) marshals to and from the wire.
type Envelope struct {
	Id      uint32          `json:"id"`
	Kind    Kind            `json:"kind"`
	Payload any             `json:"payload,omitempty"`
}

// ErrorCode enumerates the error kinds a server Error message may carry.
type ErrorCode string

const (
	ErrorCodeDeviceNotFound          ErrorCode = "DeviceNotFound"
	ErrorCodeUnsupportedCommand      ErrorCode = "UnsupportedCommand"
	ErrorCodeInvalidActuatorIndex    ErrorCode = "InvalidActuatorIndex"
	ErrorCodeFeatureNotSupported     ErrorCode = "FeatureNotSupported"
	ErrorCodeDeviceCommunicationErr  ErrorCode = "DeviceCommunicationError"
	ErrorCodeMessageError            ErrorCode = "MessageError"
	ErrorCodeUnexpectedMessage       ErrorCode = "UnexpectedMessage"
	ErrorCodeStartupError            ErrorCode = "StartupError"
)

// Ok is the generic success acknowledgement.
type Ok struct {
	Id uint32 `json:"id"`
}

// Error carries a failed request's id alongside a machine-readable code
// and a human-readable message.
type Error struct {
	Id      uint32    `json:"id"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// NewError builds an Error response for the given request id.
func NewError(id uint32, code ErrorCode, message string) Error {
	return Error{Id: id, Code: code, Message: message}
}

// RequestServerInfo is the initial handshake request.
type RequestServerInfo struct {
	Id uint32 `json:"id"`
}

// StartScanning requests that every attached transport begin discovery.
type StartScanning struct {
	Id uint32 `json:"id"`
}

// StopScanning requests that every attached transport stop discovery.
type StopScanning struct {
	Id uint32 `json:"id"`
}

// ScanningFinished is an event broadcast exactly once per scanning
// session once every transport has gone idle. Always carries Id 0 — use
// NewScanningFinished rather than constructing this directly.
type ScanningFinished struct {
	Id uint32 `json:"id"`
}

// NewScanningFinished builds a ScanningFinished event with its id
// invariant (always zero) enforced at construction.
func NewScanningFinished() ScanningFinished {
	return ScanningFinished{Id: 0}
}

// DeviceList is the response to a device enumeration request.
type DeviceList struct {
	Id      uint32       `json:"id"`
	Devices []DeviceInfo `json:"devices"`
}

// DeviceInfo summarizes one live device for DeviceList/DeviceAdded.
type DeviceInfo struct {
	DeviceIndex    uint32         `json:"device_index"`
	DeviceName     string         `json:"device_name"`
	DeviceMessages map[string]any `json:"device_messages"`
}

// DeviceAdded is an event broadcast when a new device joins device_map.
// Always carries Id 0.
type DeviceAdded struct {
	Id             uint32         `json:"id"`
	DeviceIndex    uint32         `json:"device_index"`
	DeviceName     string         `json:"device_name"`
	DeviceMessages map[string]any `json:"device_messages"`
}

// NewDeviceAdded builds a DeviceAdded event with Id forced to zero.
func NewDeviceAdded(index uint32, name string, attrs map[string]any) DeviceAdded {
	return DeviceAdded{Id: 0, DeviceIndex: index, DeviceName: name, DeviceMessages: attrs}
}

// DeviceRemoved is an event broadcast when a device leaves device_map.
// Always carries Id 0.
type DeviceRemoved struct {
	Id          uint32 `json:"id"`
	DeviceIndex uint32 `json:"device_index"`
}

// NewDeviceRemoved builds a DeviceRemoved event with Id forced to zero.
func NewDeviceRemoved(index uint32) DeviceRemoved {
	return DeviceRemoved{Id: 0, DeviceIndex: index}
}

// StopDeviceCmd requests that one device's actuators all return to zero.
type StopDeviceCmd struct {
	Id          uint32 `json:"id"`
	DeviceIndex uint32 `json:"device_index"`
}

// StopAllDevices requests that every live device's actuators return to zero.
type StopAllDevices struct {
	Id uint32 `json:"id"`
}

// SpeedCmd is one actuator/speed pair within a VibrateCmd.
type SpeedCmd struct {
	Index uint32  `json:"index"`
	Speed float64 `json:"speed"`
}

// VibrateCmd sets one or more vibration actuators on a device.
type VibrateCmd struct {
	Id          uint32     `json:"id"`
	DeviceIndex uint32     `json:"device_index"`
	Speeds      []SpeedCmd `json:"speeds"`
}

// LinearVector is one actuator/position/duration triple within a
// LinearCmd request.
type LinearVector struct {
	Index    uint32  `json:"index"`
	Duration uint32  `json:"duration"`
	Position float64 `json:"position"`
}

// LinearCmd moves one or more linear actuators on a device.
type LinearCmd struct {
	Id          uint32         `json:"id"`
	DeviceIndex uint32         `json:"device_index"`
	Vectors     []LinearVector `json:"vectors"`
}

// RotateVector is one actuator/speed/direction triple within a RotateCmd
// request.
type RotateVector struct {
	Index      uint32  `json:"index"`
	Speed      float64 `json:"speed"`
	Clockwise  bool    `json:"clockwise"`
}

// RotateCmd sets one or more rotating actuators on a device.
type RotateCmd struct {
	Id          uint32         `json:"id"`
	DeviceIndex uint32         `json:"device_index"`
	Rotations   []RotateVector `json:"rotations"`
}

// RawWriteCmd writes raw bytes to an endpoint exposed by a device's
// transport. Stubbed: no protocol in this core implements raw endpoints.
type RawWriteCmd struct {
	Id          uint32 `json:"id"`
	DeviceIndex uint32 `json:"device_index"`
	Endpoint    string `json:"endpoint"`
	Data        []byte `json:"data"`
	WriteWithResponse bool `json:"write_with_response"`
}

// RawReadCmd reads raw bytes from an endpoint exposed by a device's
// transport. Stubbed: no protocol in this core implements raw endpoints.
type RawReadCmd struct {
	Id          uint32 `json:"id"`
	DeviceIndex uint32 `json:"device_index"`
	Endpoint    string `json:"endpoint"`
	ExpectedLength uint32 `json:"expected_length"`
}

// RawSubscribeCmd subscribes to notifications on an endpoint exposed by a
// device's transport. Stubbed: no protocol in this core implements raw
// endpoints.
type RawSubscribeCmd struct {
	Id          uint32 `json:"id"`
	DeviceIndex uint32 `json:"device_index"`
	Endpoint    string `json:"endpoint"`
}

// Ping resets the server's ping deadman switch.
type Ping struct {
	Id uint32 `json:"id"`
}
