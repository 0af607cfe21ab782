package influx

import "errors"

// ErrNotConnected indicates the writer is not connected to InfluxDB.
var ErrNotConnected = errors.New("influx: not connected")
