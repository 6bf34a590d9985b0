// Package transportdial selects and opens a concrete adapter.Device from
// an AdapterEndpoint string (SPEC_FULL §3/§4.1a). It is the one package
// that imports both internal/adapter and the concrete transports
// (usbtransport, remoteadapter), keeping those transport packages free to
// depend only on adapter's interfaces without an import cycle back to
// this package — the same "Device struct unifying multiple backing
// transports behind one type" role teacher's
// internal/driver/device/controller.go plays for its own hasher/ASIC/
// kernel-module backends, generalized to a string endpoint instead of a
// compile-time device kind.
package transportdial

import (
	"fmt"
	"strings"

	"github.com/google/gousb"

	"github.com/volvotools/vagdiag/internal/adapter"
	"github.com/volvotools/vagdiag/internal/adapter/remoteadapter"
	"github.com/volvotools/vagdiag/internal/adapter/usbtransport"
)

// LocalEndpoint is the sentinel AdapterEndpoint value meaning "open the
// pass-through interface attached to this machine over USB" rather than
// dialing a vagdiagd instance.
const LocalEndpoint = "local"

// Dial opens an adapter.Device for endpoint: LocalEndpoint for direct USB
// access via usbtransport, or a "host:port" string naming a vagdiagd
// instance to drive over remoteadapter's HTTP/JSON client.
func Dial(endpoint string, vid, pid gousb.ID) (adapter.Device, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" || endpoint == LocalEndpoint {
		dev, err := usbtransport.Open(vid, pid)
		if err != nil {
			return nil, fmt.Errorf("transportdial: open local usb device: %w", err)
		}
		return dev, nil
	}
	return remoteadapter.Dial(baseURL(endpoint)), nil
}

// baseURL turns a bare "host:port" endpoint into an http:// base URL; a
// value that already names a scheme is passed through unchanged so
// callers can opt into https explicitly.
func baseURL(endpoint string) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	return "http://" + endpoint
}
