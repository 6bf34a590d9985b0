// Package trace provides optional field-debugging instrumentation: a
// ring-buffer-backed tracer that republishes raw adapter I/O activity as
// TraceEvents. It is never required for protocol correctness (spec.md §2
// item 11/SPEC_FULL §4.9) — attaching it can fail (no BPF capability,
// non-Linux host) and every caller is expected to fall back to Noop in
// that case. Grounded on
// _examples/guiperry-HASHER/internal/driver/device/eBPF_driver.go's
// rlimit.RemoveMemlock/ringbuf.Reader shape, generalized from its
// ASIC-nonce ring buffer to a tx/rx byte-count event stream.
package trace

import "time"

// Direction identifies which way traced bytes moved across the adapter's
// underlying file descriptor.
type Direction int

const (
	Tx Direction = iota
	Rx
)

func (d Direction) String() string {
	if d == Tx {
		return "tx"
	}
	return "rx"
}

// Event is one traced I/O activity record (SPEC_FULL §3 TraceEvent).
type Event struct {
	Timestamp time.Time
	Direction Direction
	ChannelID uint32
	Bytes     int
}

// Tracer republishes traced events until Close is called.
type Tracer interface {
	Events() <-chan Event
	Close() error
}

// noopTracer satisfies Tracer with a channel that is closed immediately,
// used whenever the platform or privilege level can't support attaching.
type noopTracer struct {
	events chan Event
}

// Noop returns a Tracer that never produces events, for hosts where
// Attach is unavailable or fails.
func Noop() Tracer {
	ch := make(chan Event)
	close(ch)
	return &noopTracer{events: ch}
}

func (t *noopTracer) Events() <-chan Event { return t.events }
func (t *noopTracer) Close() error         { return nil }
