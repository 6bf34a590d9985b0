package tp20

import (
	"context"
	"fmt"
	"time"
)

// Processor adapts a Session to the shared request-processor contract
// (spec.md §4.5): build service+params, run it through the session, and
// classify the KWP2000-style 0x7F negative response envelope. The method
// signature matches d2.Processor and uds.Processor so internal/steps can
// depend on one RequestProcessor interface across all three protocols.
type Processor struct {
	Session *Session
}

// Process sends serviceByte+params through the session's windowed data
// phase and returns the positive-response payload (without the echoed
// service byte), or a typed Error for a negative response. timeout bounds
// the whole exchange; per-step read windows inside Session mirror the
// original's fixed 5s reads.
func (p *Processor) Process(ctx context.Context, serviceByte byte, params []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := make([]byte, 0, 1+len(params))
	req = append(req, serviceByte)
	req = append(req, params...)

	for {
		resp, err := p.Session.Process(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("tp20: process: %w", err)
		}
		if len(resp) == 0 {
			return nil, fmt.Errorf("tp20: process: empty response")
		}
		if resp[0] == 0x7F {
			if len(resp) < 3 {
				return nil, fmt.Errorf("tp20: process: malformed negative response")
			}
			if IsBusy(resp[2]) {
				continue
			}
			return nil, &Error{Code: resp[2]}
		}
		if resp[0] != serviceByte+0x40 {
			return nil, fmt.Errorf("tp20: process: unexpected response service 0x%02X", resp[0])
		}
		return resp[1:], nil
	}
}

// ResetSession tears down and re-establishes the channel-level connection
// underneath the session, satisfying steps.SessionResetter. This is KWP's
// EnterProgrammingSession disconnect/reconnect step
// (KWPProtocolCommonSteps::enterProgrammingSession) — Stop only disarms the
// keep-alive timer (see Session.Stop), so the 500ms pause before Start
// mirrors the original's explicit wait between disconnect and reconnect.
func (p *Processor) ResetSession(ctx context.Context) error {
	_ = p.Session.Stop()
	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := p.Session.Start(ctx); err != nil {
		return fmt.Errorf("tp20: reset session: %w", err)
	}
	return nil
}
