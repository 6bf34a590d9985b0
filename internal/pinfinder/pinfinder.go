// Package pinfinder brute-forces a security-access PIN by driving the
// same authorize handshake the flasher uses, one candidate at a time,
// over a 24-bit search space (spec.md §4.7). Grounded on
// original_source/Common/src/UDSPinFinder.cpp, whose hfsm2 state
// machine this replaces with a plain loop, per spec.md §9's "replacing
// inheritance with capabilities"/"state-machine library" design notes.
package pinfinder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/volvotools/vagdiag/internal/adapter"
	"github.com/volvotools/vagdiag/internal/steps"
)

// State mirrors UDSPinFinder::State.
type State int

const (
	StateInitial State = iota
	StateFallAsleep
	StateKeepAlive
	StateWork
	StateWakeUp
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateFallAsleep:
		return "FallAsleep"
	case StateKeepAlive:
		return "KeepAlive"
	case StateWork:
		return "Work"
	case StateWakeUp:
		return "WakeUp"
	case StateDone:
		return "Done"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Direction selects whether the search increments or decrements the
// current candidate pin on each failed attempt (UDSPinFinder::Direction).
type Direction int

const (
	Up Direction = iota
	Down
)

const pinSpaceMask = 0x00FFFFFF // 24-bit search space

// Finder runs the brute-force loop. Each candidate gets the same seed/key
// exchange and steps.GenerateKey computation the flasher uses, but as a
// single attempt (see tryOnce): steps.Authorize's retries and backoff are
// not applied.
type Finder struct {
	// Channels receives FallAsleep/WakeUp broadcasts; ECUProc is the
	// request processor bound to the target ECU's channel for
	// KeepAlive/Authorize.
	Channels []adapter.Channel
	ECUProc  steps.RequestProcessor
	ECUChan  adapter.Channel

	Direction Direction
	StartPin  uint32
	Timeout   time.Duration

	// OnState is called on every state transition with the current
	// candidate pin, from the goroutine running Run.
	OnState func(state State, currentPin uint32)

	mu         sync.Mutex
	stopped    bool
	currentPin uint32
	foundPin   *uint32
}

// Stop requests the search halt after the in-flight attempt completes
// (UDSPinFinderImpl::stop/isStopping).
func (f *Finder) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *Finder) isStopping() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// FoundPin returns the successful candidate and true once Run has
// found one.
func (f *Finder) FoundPin() (uint32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.foundPin == nil {
		return 0, false
	}
	return *f.foundPin, true
}

// Run drives FallAsleep -> KeepAlive -> Authorize-loop -> WakeUp,
// returning the found pin on success. It always runs WakeUp before
// returning, even on failure or explicit stop, matching the flasher's
// guaranteed wake-up compensation (spec.md §5 "Cancellation &
// timeouts").
func (f *Finder) Run(ctx context.Context) (uint32, error) {
	f.mu.Lock()
	f.currentPin = f.StartPin & pinSpaceMask
	f.mu.Unlock()

	f.setState(StateFallAsleep)
	if err := steps.FallAsleep(ctx, f.Channels); err != nil {
		f.setState(StateError)
		steps.WakeUp(ctx, f.Channels)
		return 0, fmt.Errorf("pinfinder: fall asleep: %w", err)
	}

	f.setState(StateKeepAlive)
	handle, err := steps.KeepAlive(f.ECUChan)
	if err != nil {
		f.setState(StateError)
		steps.WakeUp(ctx, f.Channels)
		return 0, fmt.Errorf("pinfinder: keep alive: %w", err)
	}
	defer f.ECUChan.StopPeriodic(handle)

	f.setState(StateWork)
	found, err := f.authorizeLoop(ctx)

	f.setState(StateWakeUp)
	steps.WakeUp(ctx, f.Channels)

	if err != nil {
		f.setState(StateError)
		return 0, err
	}
	f.setState(StateDone)
	return found, nil
}

func (f *Finder) authorizeLoop(ctx context.Context) (uint32, error) {
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
		if f.isStopping() {
			return 0, fmt.Errorf("pinfinder: stopped before a pin was found")
		}

		f.mu.Lock()
		candidate := f.currentPin
		f.mu.Unlock()

		pin := pinArray(candidate)
		if err := f.tryOnce(ctx, pin); err == nil {
			f.mu.Lock()
			f.foundPin = &candidate
			f.mu.Unlock()
			return candidate, nil
		}

		f.mu.Lock()
		if f.Direction == Up {
			f.currentPin = (f.currentPin + 1) & pinSpaceMask
		} else {
			f.currentPin = (f.currentPin - 1) & pinSpaceMask
		}
		f.mu.Unlock()
	}
}

// tryOnce runs a single seed/key round trip for pin with no retry or
// backoff: a negative response just means this candidate is wrong and
// the search should move on immediately, unlike steps.Authorize's
// flasher-facing retry loop (UDSPinFinderImpl::authorize calls the
// single-attempt authorize, not the retrying one: a wrong PIN isn't a
// transient failure worth backing off for).
func (f *Finder) tryOnce(ctx context.Context, pin [5]byte) error {
	seedResp, err := f.ECUProc.Process(ctx, 0x27, []byte{0x01}, f.Timeout)
	if err != nil {
		return err
	}
	if len(seedResp) < 3 {
		return fmt.Errorf("pinfinder: short seed response")
	}
	seed := [3]byte{seedResp[len(seedResp)-3], seedResp[len(seedResp)-2], seedResp[len(seedResp)-1]}
	key := steps.GenerateKey(pin, seed)

	keyResp, err := f.ECUProc.Process(ctx, 0x27, []byte{0x02, byte(key >> 16), byte(key >> 8), byte(key)}, f.Timeout)
	if err != nil {
		return err
	}
	if len(keyResp) < 1 || keyResp[0] != 0x02 {
		return fmt.Errorf("pinfinder: key rejected")
	}
	return nil
}

func (f *Finder) setState(s State) {
	f.mu.Lock()
	pin := f.currentPin
	f.mu.Unlock()
	if f.OnState != nil {
		f.OnState(s, pin)
	}
}

// pinArray packs a 24-bit candidate into the 5-byte pin shape
// steps.Authorize/steps.GenerateKey expect, leaving the top two bytes
// zero (UDSPinFinderImpl::authorize's getPinArray(_currentPin)).
func pinArray(candidate uint32) [5]byte {
	return [5]byte{0x00, 0x00, byte(candidate >> 16), byte(candidate >> 8), byte(candidate)}
}
