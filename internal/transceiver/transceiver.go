// Package transceiver reads D2 CAN frames off a raw adapter.Channel and
// fans each frame's payload out to per-ECU subscribers as it arrives.
// Grounded on original_source/Common/CanMessagesTransceiver.{hpp,cpp}: its
// condition-variable-gated read thread and begin/continuation reassembly
// become a goroutine driven by channels, the idiomatic Go shape for the
// same start/stop/shutdown lifecycle.
package transceiver

import (
	"sync"
	"time"

	"github.com/volvotools/vagdiag/internal/adapter"
	"github.com/volvotools/vagdiag/internal/d2"
)

// Receiver is notified of every received CAN frame for the ECU it
// subscribed to, with the payload starting at the D2 header byte
// (ICanMessagesReceiver::onCanMessage). Returning
// false stops the transceiver's read loop, matching the original's
// "return false to stop receiving" contract.
type Receiver interface {
	OnCanMessage(data []byte) bool
}

const (
	packetBegin        = 0x80
	packetContinuation = 0x40
)

// Transceiver owns a background read loop over one adapter.Channel,
// dispatching each frame's payload to every subscriber registered for
// that frame's ECU (CanMessagesTransceiver::processMessages). It also
// accumulates begin/continuation-tagged payloads per ECU, but the
// accumulated buffer is not delivered to subscribers.
type Transceiver struct {
	channel  adapter.Channel
	pollTime time.Duration

	mu          sync.Mutex
	partial     map[d2.EcuID][]byte
	subscribers map[d2.EcuID][]Receiver
	readEnabled bool

	enable chan bool
	done   chan struct{}
	closed chan struct{}
}

// New starts the background read loop immediately, idle until the first
// call to RunRead(true) (readThread's wait-on-condvar, translated to a
// select on the enable channel).
func New(channel adapter.Channel, pollTime time.Duration) *Transceiver {
	t := &Transceiver{
		channel:     channel,
		pollTime:    pollTime,
		partial:     make(map[d2.EcuID][]byte),
		subscribers: make(map[d2.EcuID][]Receiver),
		enable:      make(chan bool, 1),
		done:        make(chan struct{}),
		closed:      make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// Subscribe registers receiver for every completed message reassembled
// for ecuType.
func (t *Transceiver) Subscribe(ecuType d2.EcuID, receiver Receiver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers[ecuType] = append(t.subscribers[ecuType], receiver)
}

// UnsubscribeAll removes every subscription held by receiver, across all
// ECU types (CanMessagesTransceiver::unsubscribeAll).
func (t *Transceiver) UnsubscribeAll(receiver Receiver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ecuType, subs := range t.subscribers {
		kept := subs[:0]
		for _, s := range subs {
			if s != receiver {
				kept = append(kept, s)
			}
		}
		t.subscribers[ecuType] = kept
	}
}

// SendMessage writes a raw D2 message to the channel on its fixed
// identifier (CanMessagesTransceiver::sendMessage).
func (t *Transceiver) SendMessage(data []byte) error {
	frame := make([]byte, 4+len(data))
	id := d2.CanID
	frame[0] = byte(id >> 24)
	frame[1] = byte(id >> 16)
	frame[2] = byte(id >> 8)
	frame[3] = byte(id)
	copy(frame[4:], data)
	_, err := t.channel.Write([][]byte{frame}, t.pollTime)
	return err
}

// RunRead enables or disables the background read loop
// (CanMessagesTransceiver::runRead).
func (t *Transceiver) RunRead(enabled bool) {
	t.mu.Lock()
	t.readEnabled = enabled
	t.mu.Unlock()
	select {
	case t.enable <- enabled:
	default:
		// A pending toggle not yet observed by readLoop is superseded by
		// this one; readLoop always re-checks readEnabled under lock.
		select {
		case <-t.enable:
		default:
		}
		t.enable <- enabled
	}
}

// Close stops the background read loop and releases the channel. It does
// not close the underlying adapter.Channel, which callers may share.
func (t *Transceiver) Close() {
	select {
	case <-t.closed:
		return
	default:
	}
	close(t.done)
	<-t.closed
}

func (t *Transceiver) readLoop() {
	defer close(t.closed)
	for {
		t.mu.Lock()
		enabled := t.readEnabled
		t.mu.Unlock()

		if !enabled {
			select {
			case <-t.done:
				return
			case enabled = <-t.enable:
				continue // re-check readEnabled at the top of the loop
			}
		}

		select {
		case <-t.done:
			return
		default:
		}

		frames, err := t.channel.Read(t.pollTime)
		if err != nil {
			continue
		}
		if !t.processFrames(frames) {
			return
		}
	}
}

// processFrames accumulates and dispatches one batch of raw frames
// (CanMessagesTransceiver::processMessages). It returns false if any
// subscriber asked to stop receiving.
func (t *Transceiver) processFrames(frames [][]byte) bool {
	for _, raw := range frames {
		if len(raw) < 5 {
			continue
		}
		ecuType := d2.ECUTypeFromPrefix(raw)
		packetType := raw[4]

		t.mu.Lock()
		switch {
		case packetType&packetBegin != 0:
			buf := make([]byte, len(raw)-5)
			copy(buf, raw[5:])
			t.partial[ecuType] = buf
		case packetType&packetContinuation != 0:
			t.partial[ecuType] = append(t.partial[ecuType], raw[5:]...)
		}
		subs := append([]Receiver(nil), t.subscribers[ecuType]...)
		t.mu.Unlock()

		payload := raw[4:]
		for _, receiver := range subs {
			if !receiver.OnCanMessage(payload) {
				return false
			}
		}
	}
	return true
}
