package tp20

import "fmt"

// nrcDescriptions mirrors TP20Error::ErrorCode from the original session
// (spec.md §7's shared NRC table, TP 2.0 variant).
var nrcDescriptions = map[byte]string{
	0x10: "generic error",
	0x11: "service not supported / invalid format",
	0x12: "sub function not supported",
	0x13: "invalid message length/format",
	0x21: "busy, repeat request",
	0x22: "conditions not correct",
	0x23: "routine not complete or service in progress",
	0x24: "request sequence error",
	0x31: "request out of range",
	0x33: "security access denied",
	0x35: "invalid key",
	0x36: "exceeded number of attempts",
	0x37: "required time delay has not expired",
	0x41: "improper download type",
	0x42: "can not download to specified address",
	0x43: "can not download number of bytes requested",
	0x50: "upload not accepted",
	0x51: "improper upload type",
	0x52: "can not upload from specified address",
	0x53: "can not upload number of bytes requested",
	0x71: "transfer data suspended",
	0x72: "transfer aborted",
	0x74: "illegal address in block transfer",
	0x75: "illegal byte count in block transfer",
	0x76: "illegal block transfer type",
	0x77: "block transfer data checksum error",
	0x78: "busy, response pending",
	0x79: "incorrect byte count during block transfer",
	0x7E: "sub function not supported in active session",
	0x7F: "service or subfunction not supported",
	0x80: "service not supported in active session",
	0x90: "no program",
}

// Error is a typed TP 2.0 negative response, carried in a KWP2000 0x7F
// envelope once a session's data phase is up.
type Error struct {
	Code byte
}

func (e *Error) Error() string {
	desc, ok := nrcDescriptions[e.Code]
	if !ok {
		desc = "unknown"
	}
	return fmt.Sprintf("tp20: error 0x%02X: %s", e.Code, desc)
}

// IsBusy reports whether code is "response pending" (0x78), absorbed
// transparently by the request processor per spec.md §7.
func IsBusy(code byte) bool { return code == 0x78 }
