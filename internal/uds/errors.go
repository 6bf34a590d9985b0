// Package uds implements the ISO 14229 request processor carried over
// isotp framing (spec.md §4.3-§4.5).
package uds

import "fmt"

// BroadcastID is the standard UDS functional-addressing CAN id.
const BroadcastID uint32 = 0x7DF

// nrcDescriptions mirrors the fixed NRC table spec.md §7 calls for,
// matching ISO 14229's well-known negative response codes.
var nrcDescriptions = map[byte]string{
	0x10: "general reject",
	0x11: "service not supported",
	0x12: "sub-function not supported",
	0x13: "incorrect message length or invalid format",
	0x22: "conditions not correct",
	0x24: "request sequence error",
	0x31: "request out of range",
	0x33: "security access denied",
	0x35: "invalid key",
	0x36: "exceeded number of attempts",
	0x37: "required time delay has not expired",
	0x70: "upload/download not accepted",
	0x71: "transfer data suspended",
	0x72: "general programming failure",
	0x73: "wrong block sequence counter",
	0x78: "request correctly received, response pending",
	0x7E: "sub-function not supported in active session",
	0x7F: "service not supported in active session",
}

// Error is a typed UDS negative-response error (NRC).
type Error struct {
	Service byte
	NRC     byte
}

func (e *Error) Error() string {
	desc, ok := nrcDescriptions[e.NRC]
	if !ok {
		desc = "unknown"
	}
	return fmt.Sprintf("uds: service 0x%02X negative response NRC 0x%02X: %s", e.Service, e.NRC, desc)
}

// IsBusy reports whether nrc is "response pending" (0x78), absorbed
// transparently by the request processor per spec.md §7.
func IsBusy(nrc byte) bool { return nrc == 0x78 }

// IsTimeDelayNotExpired reports whether nrc is
// RequiredTimeDelayHasNotExpired (0x37). steps.Authorize retries this,
// like any other error, with a 5s backoff (spec.md §7).
func IsTimeDelayNotExpired(nrc byte) bool { return nrc == 0x37 }
