package logger

import "math"

// Decode applies p's transform to one raw sample value, yielding the
// floating-point value dispatched to subscribers (spec.md §4.8
// "Decode", ported from LogParameter::formatValue). A float parameter
// reinterprets the raw bits as IEEE-754 instead of taking the
// mask/sign/scale path.
func Decode(p LogParameter, raw uint32) float64 {
	if p.Float {
		return float64(math.Float32frombits(raw))
	}

	v := raw
	if p.Bitmask != 0 {
		v &= p.Bitmask
	}
	signed := signExtend(v, p.Signed, p.Size)

	if p.Inverse {
		return p.Factor / (signed + p.Offset)
	}
	return signed*p.Factor + p.Offset
}

// signExtend mirrors processSign: unsigned values pass through as-is;
// signed values are sign-extended from the parameter's byte width
// before conversion to float64.
func signExtend(v uint32, isSigned bool, size int) float64 {
	if !isSigned {
		return float64(v)
	}
	switch size {
	case 1:
		return float64(int8(v))
	case 2:
		return float64(int16(v))
	default:
		return float64(int32(v))
	}
}

// DecodeRecord decodes every value in rec against params, in order.
// len(rec.Raw) must equal len(params); callers constructing records
// outside this package (e.g. tests) must preserve that invariant
// (spec.md §8 "for logger: record length = parameter count").
func DecodeRecord(params []LogParameter, rec LogRecord) []float64 {
	out := make([]float64, len(rec.Raw))
	for i, raw := range rec.Raw {
		if i >= len(params) {
			break
		}
		out[i] = Decode(params[i], raw)
	}
	return out
}
