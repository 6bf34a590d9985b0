package d2

import "fmt"

// nrcDescriptions gives human-readable text for D2 negative-response codes,
// mirrored from the generic ISO 14230-style NRC space original_source's
// D2Error.hpp leaves undocumented (it only stores the raw code).
var nrcDescriptions = map[byte]string{
	0x10: "general reject",
	0x11: "service not supported",
	0x12: "sub-function not supported",
	0x22: "conditions not correct",
	0x31: "request out of range",
	0x33: "security access denied",
	0x35: "invalid key",
	0x36: "exceeded number of attempts",
	0x37: "required time delay has not expired",
	0x78: "response pending",
}

// Error is a typed D2 negative-response error.
type Error struct {
	Code byte
}

func (e *Error) Error() string {
	desc, ok := nrcDescriptions[e.Code]
	if !ok {
		desc = "unknown"
	}
	return fmt.Sprintf("d2: negative response 0x%02X: %s", e.Code, desc)
}

// IsBusy reports whether code is the "response pending" NRC, which the
// request processor absorbs transparently per spec.md §7.
func IsBusy(code byte) bool { return code == 0x78 }
