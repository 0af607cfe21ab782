package dongle

import "bytes"

// reportSize is the fixed HID report length for this transport: one
// report-id byte, up to 63 payload bytes, one trailing padding byte.
const reportSize = 65

// payloadSize is the usable payload capacity of one outbound report.
const payloadSize = 63

// reportID is the HID report id used by every report, inbound and
// outbound.
const reportID = 0x00

// FrameOutbound splits a message into one or more 65-byte HID reports:
// CRLF-terminates the message, chunks it into 63-byte payload segments,
// and prepends the report id byte to each chunk. The final byte of a
// report is left zero (used as padding when a chunk is shorter than
// payloadSize, and as the spec's trailing zero byte when it is not).
func FrameOutbound(message []byte) [][]byte {
	payload := make([]byte, 0, len(message)+2)
	payload = append(payload, message...)
	payload = append(payload, '\r', '\n')

	var reports [][]byte
	for len(payload) > 0 {
		n := payloadSize
		if len(payload) < n {
			n = len(payload)
		}
		chunk := payload[:n]
		payload = payload[n:]

		report := make([]byte, reportSize)
		report[0] = reportID
		copy(report[1:], chunk)
		reports = append(reports, report)
	}
	return reports
}

// InboundDecoder accumulates raw HID reports and yields complete,
// newline-delimited messages as they become available. One decoder is
// used for the lifetime of a single dongle connection.
type InboundDecoder struct {
	buf []byte
}

// Feed appends one inbound report to the accumulation buffer (stripping
// its report-id byte and any trailing null padding) and returns every
// complete message newline boundaries now make available.
func (d *InboundDecoder) Feed(report []byte) [][]byte {
	if len(report) == 0 {
		return nil
	}

	payload := report
	if len(payload) > 1 {
		payload = payload[1:] // strip report-id byte
	}
	payload = bytes.TrimRight(payload, "\x00")

	d.buf = append(d.buf, payload...)

	var out [][]byte
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimRight(d.buf[:idx], "\r")
		d.buf = d.buf[idx+1:]
		if len(line) > 0 {
			msg := make([]byte, len(line))
			copy(msg, line)
			out = append(out, msg)
		}
	}
	return out
}
