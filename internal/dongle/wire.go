package dongle

import "encoding/json"

// wireMessage is the representative NDJSON record exchanged with the
// dongle: one line per device-list entry or status notification.
type wireMessage struct {
	Type    string `json:"type"`
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	Status  string `json:"status,omitempty"`
}

const (
	wireTypeDeviceListEntry = "device_list_entry"
	wireTypeStatus          = "status"

	wireStatusScanningFinished = "scanning_finished"
)

// scanCommand and stopScanCommand are the outbound NDJSON commands this
// driver writes to the dongle to control discovery.
var (
	scanCommand     = []byte(`{"type":"start_scan"}`)
	stopScanCommand = []byte(`{"type":"stop_scan"}`)
)

func parseWireMessage(raw []byte) (wireMessage, error) {
	var m wireMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return wireMessage{}, ErrMalformedReport
	}
	return m, nil
}
