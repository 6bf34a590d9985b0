//go:build !linux

package trace

import "fmt"

// Attach always fails on non-Linux hosts: cilium/ebpf's kernel facilities
// are Linux-only. Callers fall back to Noop.
func Attach(fd int) (Tracer, error) {
	return nil, fmt.Errorf("trace: eBPF tracing is only available on linux")
}
