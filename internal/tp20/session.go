package tp20

import (
	"context"
	"fmt"
	"time"

	"github.com/volvotools/vagdiag/internal/adapter"
	"github.com/volvotools/vagdiag/internal/canframe"
)

// state is the hand-rolled replacement for the original hfsm2 machine
// (spec.md §9 redesign: no FSM library, an enum plus a step loop).
type state int

const (
	stateSendRequest state = iota
	stateWaitForAck
	stateReadResponse
	stateWriteAck
	stateIdle
	stateError
)

// Session is the long-lived TP 2.0 transport session above a raw CAN
// channel: connect handshake, windowed send, ack accounting, receive
// reassembly. One Session serves one ECU for the lifetime of a flash,
// logging, or pin-finder operation (spec.md §4.4).
type Session struct {
	channel adapter.Channel
	ecuID   byte

	rxID             uint32
	txID             uint32
	minSendDelay     time.Duration
	maxPktsTillAck   byte
	pktsTillAck      byte
	sendSeq          byte
	ackSeq           byte
	lastSendTime     time.Time
	keepAliveHandle  adapter.PeriodicHandle
	keepAliveActive  bool

	dataToSend [][]byte
	recvBuf    []byte

	needReadMore bool
	needSendAck  bool
	needReadAck  bool
}

// NewSession builds a Session bound to channel for the ECU identified by
// ecuID. Call Start before Process.
func NewSession(channel adapter.Channel, ecuID byte) *Session {
	return &Session{channel: channel, ecuID: ecuID}
}

// Start runs the channel setup handshake and parameter negotiation
// (spec.md §4.4 "Connect"), and arms the 1000ms keep-alive.
func (s *Session) Start(ctx context.Context) error {
	setupReq := []byte{
		s.ecuID, serviceChannelSetup, 0x00, 0x10,
		byte(requestedChannel & 0xFF), byte((requestedChannel >> 8) & 0xFF), 0x01,
	}
	csResp, err := s.rawExchange(ctx, initialCanID, setupReq, time.Second)
	if err != nil {
		return fmt.Errorf("tp20: channel setup: %w", err)
	}
	if len(csResp) < 6 {
		return fmt.Errorf("tp20: channel setup: short response")
	}
	if csResp[0] != 0 || csResp[1] != serviceChannelSetupPositiveResponse ||
		encodeChannel(csResp[2], csResp[3]) != requestedChannel {
		return fmt.Errorf("tp20: channel setup: unexpected response")
	}
	channelTxID := encodeChannel(csResp[4], csResp[5])

	paramsReq := []byte{serviceSetupChannelParameters, 0x0F, 0x8A, 0xFF, 0x32, 0xFF}
	cpResp, err := s.rawExchange(ctx, uint32(channelTxID), paramsReq, 2*time.Second)
	if err != nil {
		return fmt.Errorf("tp20: channel parameters: %w", err)
	}
	if len(cpResp) < 6 || cpResp[0] != serviceSetupChannelParameters {
		return fmt.Errorf("tp20: channel parameters: unexpected response")
	}

	s.txID = uint32(channelTxID)
	s.rxID = uint32(requestedChannel)
	s.sendSeq = 0
	s.ackSeq = 0
	s.maxPktsTillAck = cpResp[1]
	raw := time.Duration(cpResp[4] & 0x3F)
	switch cpResp[4] >> 6 {
	case 0:
		s.minSendDelay = raw * time.Millisecond / 10
	case 1:
		s.minSendDelay = raw * time.Millisecond
	case 2:
		s.minSendDelay = raw * 10 * time.Millisecond
	case 3:
		s.minSendDelay = raw * 100 * time.Millisecond
	}

	handle, err := s.channel.StartPeriodic(canframe.CanFrame{ID: s.txID, Data: frame{Opcode: opKeepAlive}.encode()}.Bytes(), keepAliveMS*time.Millisecond)
	if err != nil {
		return fmt.Errorf("tp20: start keep-alive: %w", err)
	}
	s.keepAliveHandle = handle
	s.keepAliveActive = true
	return nil
}

// Stop tears down the keep-alive. The original disconnect() never
// actually sends a disconnect frame (it unconditionally returns false);
// this mirrors that by only stopping the periodic job.
func (s *Session) Stop() error {
	if !s.keepAliveActive {
		return nil
	}
	s.keepAliveActive = false
	return s.channel.StopPeriodic(s.keepAliveHandle)
}

// rawExchange performs a single, non-windowed send/receive used only
// during connect(), before a data-phase session id is assigned.
func (s *Session) rawExchange(ctx context.Context, txID uint32, payload []byte, timeout time.Duration) ([]byte, error) {
	msg := canframe.CanFrame{ID: txID, Data: [8]byte{}}
	copy(msg.Data[:], payload)
	n, err := s.channel.Write([][]byte{msg.Bytes()}, timeout)
	if err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	if n < 1 {
		return nil, fmt.Errorf("write: no frames written")
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("timeout waiting for response")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		raw, err := s.channel.Read(remaining)
		if err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
		for _, b := range raw {
			f, perr := canframe.ParseCanFrame(b)
			if perr != nil {
				continue
			}
			return append([]byte(nil), f.Data[:]...), nil
		}
	}
}

// Process sends request through the windowed data phase and returns the
// reassembled response, running the hand-rolled state machine until it
// reaches Idle (success) or Error (spec.md §4.4 "State machine").
func (s *Session) Process(ctx context.Context, request []byte) ([]byte, error) {
	if len(request) > maxRequestBytes {
		return nil, fmt.Errorf("tp20: request too large: %d bytes", len(request))
	}
	s.setRequestData(request)
	s.recvBuf = nil
	s.needReadMore = false

	st := stateSendRequest
	for st != stateIdle && st != stateError {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		var err error
		st, err = s.step(ctx, st)
		if err != nil {
			return nil, fmt.Errorf("tp20: process: %w", err)
		}
	}
	if st == stateError {
		return nil, fmt.Errorf("tp20: process: session entered error state")
	}
	return s.recvBuf, nil
}

func (s *Session) step(ctx context.Context, st state) (state, error) {
	switch st {
	case stateSendRequest:
		ok, err := s.sendRequest(ctx)
		if err != nil || !ok {
			return stateError, err
		}
		if s.needReadAck {
			return stateWaitForAck, nil
		}
		if len(s.dataToSend) == 0 {
			return stateReadResponse, nil
		}
		return stateSendRequest, nil

	case stateWaitForAck:
		ok, err := s.readAck(ctx)
		if err != nil || !ok {
			return stateError, err
		}
		if len(s.dataToSend) > 0 {
			return stateSendRequest, nil
		}
		return stateReadResponse, nil

	case stateReadResponse:
		ok, err := s.readResponse(ctx)
		if err != nil || !ok {
			return stateError, err
		}
		if s.needSendAck {
			return stateWriteAck, nil
		}
		if !s.needReadMore {
			return stateIdle, nil
		}
		return stateReadResponse, nil

	case stateWriteAck:
		ok, err := s.sendAck(ctx)
		if err != nil || !ok {
			return stateError, err
		}
		if s.needReadMore {
			return stateReadResponse, nil
		}
		return stateIdle, nil
	}
	return stateError, fmt.Errorf("unreachable state %d", st)
}

// setRequestData fragments request into the 8-byte payload queue,
// matching the original's 3-byte-header-first-chunk, 1-byte-header-rest
// layout (spec.md §4.4 "Fragmenting a request").
func (s *Session) setRequestData(request []byte) {
	s.dataToSend = nil
	payload := []byte{0, byte((len(request) >> 8) & 0xFF), byte(len(request) & 0xFF)}
	headerLen := len(payload)
	for offset := 0; offset < len(request); {
		room := payloadSize - headerLen
		if room > len(request)-offset {
			room = len(request) - offset
		}
		payload = append(payload, request[offset:offset+room]...)
		s.dataToSend = append(s.dataToSend, payload)
		offset += room
		headerLen = 1
		payload = make([]byte, 1)
	}
}

func (s *Session) sendRequest(ctx context.Context) (bool, error) {
	if len(s.dataToSend) == 0 {
		return false, nil
	}
	payload := s.dataToSend[0]
	s.dataToSend = s.dataToSend[1:]
	if len(s.dataToSend) == 0 {
		payload[0] = opDataAckRequired
	} else if s.pktsTillAck > 0 {
		payload[0] = opDataNoAck
	} else {
		payload[0] = opDataAckRequired
	}

	seq := s.sendSeq
	s.sendSeq++
	if err := s.sendMessage(ctx, seq, payload); err != nil {
		return false, err
	}
	s.pktsTillAck--
	s.needReadAck = s.pktsTillAck == 0 || len(s.dataToSend) == 0
	return true, nil
}

func (s *Session) sendMessage(ctx context.Context, seq byte, payload []byte) error {
	wait := time.Until(s.lastSendTime.Add(s.minSendDelay))
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	payload[0] |= seq & seqMask
	msg := canframe.CanFrame{ID: s.txID}
	copy(msg.Data[:], payload)
	n, err := s.channel.Write([][]byte{msg.Bytes()}, time.Second)
	s.lastSendTime = time.Now()
	if err != nil {
		return err
	}
	if n < 1 {
		return fmt.Errorf("no frames written")
	}
	return nil
}

func (s *Session) readAck(ctx context.Context) (bool, error) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}
		raw, err := s.channel.Read(time.Until(deadline))
		if err != nil {
			return false, err
		}
		for _, b := range raw {
			f, perr := canframe.ParseCanFrame(b)
			if perr != nil || s.checkMessageForSkip(f) {
				continue
			}
			if f.Data[0]&0xF0 == opAck {
				s.needReadAck = false
				s.pktsTillAck = s.maxPktsTillAck
				return true, nil
			}
		}
	}
	return false, fmt.Errorf("timeout waiting for ack")
}

func (s *Session) readResponse(ctx context.Context) (bool, error) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}
		raw, err := s.channel.Read(time.Until(deadline))
		if err != nil {
			return false, err
		}
		for _, b := range raw {
			f, perr := canframe.ParseCanFrame(b)
			if perr != nil || s.checkMessageForSkip(f) {
				continue
			}
			op := (f.Data[0] >> 4) & 0x0F
			s.needReadMore = op&0x1 == 0
			s.needSendAck = op&0x2 == 0
			s.recvBuf = append(s.recvBuf, f.Data[1:]...)
			if s.needSendAck {
				s.ackSeq = (f.Data[0] & 0x0F) + 1
			}
			if !(s.needReadMore && !s.needSendAck) {
				return true, nil
			}
		}
	}
	return false, fmt.Errorf("timeout waiting for response")
}

func (s *Session) sendAck(ctx context.Context) (bool, error) {
	if err := s.sendMessage(ctx, s.ackSeq, []byte{opAck}); err != nil {
		return false, err
	}
	return true, nil
}

// checkMessageForSkip drops frames not addressed to this session's rx id
// and connection-test frames, matching the original's checkMessageForSkip.
func (s *Session) checkMessageForSkip(f canframe.CanFrame) bool {
	if f.ID != s.rxID {
		return true
	}
	return f.Data[0] == opConnectionTest
}
