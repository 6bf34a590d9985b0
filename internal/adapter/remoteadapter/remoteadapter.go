// Package remoteadapter implements adapter.Device/Channel as an HTTP/JSON
// client against cmd/vagdiagd's gin router, for hosts that talk to a
// pass-through interface attached to a different machine
// (SPEC_FULL §4.1a). Grounded on
// _examples/guiperry-HASHER/internal/driver/host/bridge.go's ASICDevice
// (a Device implementation that is really a thin client dialing a remote
// process) — ported from its gRPC dial to a JSON/HTTP client matching the
// daemon side's gin router (see DESIGN.md's "Dropped teacher
// dependencies" for why gRPC itself was not carried over).
package remoteadapter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/volvotools/vagdiag/internal/adapter"
)

// Client is an adapter.Device backed by one cmd/vagdiagd instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// Dial builds a Client against baseURL (e.g. "http://192.168.1.50:8411").
// No network round trip happens here: the daemon is only contacted on the
// first facade call, matching adapter.Device.Connect's lazy-connect
// contract.
func Dial(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{}}
}

type connectRequest struct {
	Protocol adapter.Protocol     `json:"protocol"`
	Flags    adapter.ConnectFlags `json:"flags"`
	Baud     int                  `json:"baud"`
}

type connectResponse struct {
	ChannelID string `json:"channel_id"`
}

// Connect opens a logical channel on the remote device
// (adapter.Device.Connect).
func (c *Client) Connect(protocol adapter.Protocol, flags adapter.ConnectFlags, baud int) (adapter.Channel, error) {
	var resp connectResponse
	if err := c.post(context.Background(), "/channels", connectRequest{Protocol: protocol, Flags: flags, Baud: baud}, &resp); err != nil {
		return nil, fmt.Errorf("remoteadapter: connect: %w", err)
	}
	return &Channel{client: c, id: resp.ChannelID}, nil
}

// Close releases the remote device handle.
func (c *Client) Close() error {
	if err := c.do(context.Background(), http.MethodDelete, "/device", nil, nil); err != nil {
		return fmt.Errorf("remoteadapter: close: %w", err)
	}
	return nil
}

// Channel is one logical channel opened on the remote device, addressed
// by the id the daemon assigned at Connect time.
type Channel struct {
	client *Client
	id     string
}

type readResponse struct {
	Frames []string `json:"frames"`
}

// Read issues a long-poll GET carrying timeout as a query parameter,
// mirroring the facade's blocking-read-with-timeout contract
// (SPEC_FULL §4.1a).
func (c *Channel) Read(timeout time.Duration) ([][]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
	defer cancel()

	path := fmt.Sprintf("/channels/%s/read?timeout_ms=%d", c.id, timeout.Milliseconds())
	var resp readResponse
	if err := c.client.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("remoteadapter: read: %w", err)
	}

	frames := make([][]byte, 0, len(resp.Frames))
	for _, f := range resp.Frames {
		b, err := base64.StdEncoding.DecodeString(f)
		if err != nil {
			return nil, fmt.Errorf("remoteadapter: read: decode frame: %w", err)
		}
		frames = append(frames, b)
	}
	return frames, nil
}

type writeRequest struct {
	Frames []string `json:"frames"`
}

type writeResponse struct {
	Written int `json:"written"`
}

// Write POSTs base64-encoded frames in one request.
func (c *Channel) Write(frames [][]byte, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req := writeRequest{Frames: make([]string, len(frames))}
	for i, f := range frames {
		req.Frames[i] = base64.StdEncoding.EncodeToString(f)
	}

	var resp writeResponse
	if err := c.client.post(ctx, "/channels/"+c.id+"/write", req, &resp); err != nil {
		return 0, fmt.Errorf("remoteadapter: write: %w", err)
	}
	return resp.Written, nil
}

type startPeriodicRequest struct {
	Frame      string `json:"frame"`
	IntervalMs int64  `json:"interval_ms"`
}

type startPeriodicResponse struct {
	Handle uint32 `json:"handle"`
}

// StartPeriodic asks the daemon to resend frame on its own timer.
func (c *Channel) StartPeriodic(frame []byte, interval time.Duration) (adapter.PeriodicHandle, error) {
	req := startPeriodicRequest{Frame: base64.StdEncoding.EncodeToString(frame), IntervalMs: interval.Milliseconds()}
	var resp startPeriodicResponse
	if err := c.client.post(context.Background(), "/channels/"+c.id+"/periodic/start", req, &resp); err != nil {
		return 0, fmt.Errorf("remoteadapter: start periodic: %w", err)
	}
	return adapter.PeriodicHandle(resp.Handle), nil
}

// StopPeriodic cancels a periodic job started with StartPeriodic.
func (c *Channel) StopPeriodic(h adapter.PeriodicHandle) error {
	req := struct {
		Handle uint32 `json:"handle"`
	}{Handle: uint32(h)}
	if err := c.client.post(context.Background(), "/channels/"+c.id+"/periodic/stop", req, nil); err != nil {
		return fmt.Errorf("remoteadapter: stop periodic: %w", err)
	}
	return nil
}

type setFilterRequest struct {
	Kind    adapter.FilterKind `json:"kind"`
	Mask    string             `json:"mask"`
	Pattern string             `json:"pattern"`
	Flow    string             `json:"flow"`
}

type setFilterResponse struct {
	Handle uint32 `json:"handle"`
}

// SetFilter installs a hardware filter on the remote device.
func (c *Channel) SetFilter(kind adapter.FilterKind, mask, pattern, flow []byte) (adapter.FilterHandle, error) {
	req := setFilterRequest{
		Kind:    kind,
		Mask:    base64.StdEncoding.EncodeToString(mask),
		Pattern: base64.StdEncoding.EncodeToString(pattern),
		Flow:    base64.StdEncoding.EncodeToString(flow),
	}
	var resp setFilterResponse
	if err := c.client.post(context.Background(), "/channels/"+c.id+"/filter", req, &resp); err != nil {
		return 0, fmt.Errorf("remoteadapter: set filter: %w", err)
	}
	return adapter.FilterHandle(resp.Handle), nil
}

type ioctlRequest struct {
	ID     int    `json:"id"`
	In     string `json:"in"`
	OutLen int    `json:"out_len"`
}

type ioctlResponse struct {
	Data string `json:"data"`
}

// Ioctl issues a vendor-defined control request through the daemon.
func (c *Channel) Ioctl(id int, in []byte, outLen int) ([]byte, error) {
	req := ioctlRequest{ID: id, In: base64.StdEncoding.EncodeToString(in), OutLen: outLen}
	var resp ioctlResponse
	if err := c.client.post(context.Background(), "/channels/"+c.id+"/ioctl", req, &resp); err != nil {
		return nil, fmt.Errorf("remoteadapter: ioctl: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("remoteadapter: ioctl: decode response: %w", err)
	}
	return data, nil
}

// ClearRx flushes the remote device's inbound queue.
func (c *Channel) ClearRx() error {
	if err := c.client.post(context.Background(), "/channels/"+c.id+"/clear-rx", nil, nil); err != nil {
		return fmt.Errorf("remoteadapter: clear rx: %w", err)
	}
	return nil
}

// ClearTx flushes the remote device's outbound queue.
func (c *Channel) ClearTx() error {
	if err := c.client.post(context.Background(), "/channels/"+c.id+"/clear-tx", nil, nil); err != nil {
		return fmt.Errorf("remoteadapter: clear tx: %w", err)
	}
	return nil
}

type setConfigRequest struct {
	Pairs map[string]int `json:"pairs"`
}

// SetConfig pushes integer-valued configuration pairs to the daemon.
func (c *Channel) SetConfig(pairs map[string]int) error {
	if err := c.client.post(context.Background(), "/channels/"+c.id+"/config", setConfigRequest{Pairs: pairs}, nil); err != nil {
		return fmt.Errorf("remoteadapter: set config: %w", err)
	}
	return nil
}

// Close releases the channel on the daemon.
func (c *Channel) Close() error {
	if err := c.client.do(context.Background(), http.MethodDelete, "/channels/"+c.id, nil, nil); err != nil {
		return fmt.Errorf("remoteadapter: close channel: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(b))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
