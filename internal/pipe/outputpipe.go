// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pipe

import (
	"sync"
	"time"

	"github.com/fibre-rpc/fibre/internal/crc"
	"github.com/fibre-rpc/fibre/internal/intervallist"
)

// Notifier is the subset of RemoteNode an OutputPipe needs: a way to wake
// the scheduler when new bytes become eligible for transmission. Kept as an
// interface here so this package never imports internal/remotenode.
type Notifier interface {
	NotifyOutputPipeReady()
}

// SuspendedOutputPipe captures the continuation state of an OutputPipe slot
// that has been released back to its pool, so a later acquire of the same
// slot index can resume mid-stream.
type SuspendedOutputPipe struct {
	Offset int64
	CRC    uint16
}

// OutputPipe holds bytes a local endpoint wants to send on one pipe, tracks
// the DataState of every byte range it has ever buffered, and produces the
// chunks a RemoteNode scheduler should emit this round.
type OutputPipe struct {
	PipeID int64

	mu             sync.Mutex
	notifier       Notifier
	ensureDelivery bool

	pos          int64 // absolute offset of buf[0]
	buf          []byte
	state        *intervallist.List[DataState]
	packetBreaks []int64 // sorted, absolute offsets, >= pos
	crcAtPos     uint16  // CRC-16 of bytes [0, pos)
	nextDueTime  time.Time
}

// NewOutputPipe constructs an OutputPipe resuming from a suspended
// continuation (a fresh pipe starts from Offset 0 and CRC crc.CRC16Init;
// the zero value carries CRC 0). ensureDelivery controls
// whether emitted ranges wait for an explicit response (WAIT_RESEND) or are
// dropped immediately after being handed to the channel once (best-effort).
func NewOutputPipe(pipeID int64, notifier Notifier, resume SuspendedOutputPipe, ensureDelivery bool) *OutputPipe {
	return &OutputPipe{
		PipeID:         pipeID,
		notifier:       notifier,
		ensureDelivery: ensureDelivery,
		pos:            resume.Offset,
		state:          intervallist.New[DataState](),
		crcAtPos:       resume.CRC,
	}
}

// SendBytes appends data to the buffer, marking the new range TO_BE_SENT. If
// appendBreak is set, one additional reserved offset is appended and marked
// as a packet break — the frame boundary consumed by RemoteFunction
// invocations and call terminators.
func (p *OutputPipe) SendBytes(data []byte, appendBreak bool) {
	p.mu.Lock()
	end := p.pos + int64(len(p.buf))
	p.buf = append(p.buf, data...)
	p.state.Set(end, int64(len(data)), ToBeSent)
	if appendBreak {
		breakOffset := p.pos + int64(len(p.buf))
		p.buf = append(p.buf, 0)
		p.state.Set(breakOffset, 1, ToBeSent)
		p.packetBreaks = append(p.packetBreaks, breakOffset)
	}
	p.mu.Unlock()
	if p.notifier != nil {
		p.notifier.NotifyOutputPipeReady()
	}
}

// SendPacketBreak sends a bare frame boundary with no payload.
func (p *OutputPipe) SendPacketBreak() {
	p.SendBytes(nil, true)
}

// CurrentPos returns the absolute offset just past the last buffered byte.
func (p *OutputPipe) CurrentPos() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos + int64(len(p.buf))
}

// GetDueTime returns the earliest time at which a resend pass is due.
func (p *OutputPipe) GetDueTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextDueTime
}

// SetDueTime overrides the next resend deadline.
func (p *OutputPipe) SetDueTime(t time.Time) {
	p.mu.Lock()
	p.nextDueTime = t
	p.mu.Unlock()
}

// EnsureDelivery reports whether the pipe expects an explicit response for
// every range it sends (WAIT_RESEND bookkeeping) versus firing a range once
// and immediately considering it done.
func (p *OutputPipe) EnsureDelivery() bool {
	return p.ensureDelivery
}

var eligibleStates = map[DataState]bool{
	ToBeSent:    true,
	WaitResend:  true,
	ToBeDropped: true,
	WaitRedrop:  true,
}

// PendingChunks returns every chunk eligible for (re)transmission this
// round: ranges in TO_BE_SENT or TO_BE_DROPPED unconditionally, and ranges
// in WAIT_RESEND/WAIT_REDROP once now has passed their due time. Chunks
// never cross a packet-break boundary.
func (p *OutputPipe) PendingChunks(now time.Time) []Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()

	bufLen := int64(len(p.buf))
	if bufLen == 0 {
		return nil
	}
	shouldResend := !now.Before(p.nextDueTime)

	var out []Chunk
	for _, iv := range p.state.Intervals(p.pos, bufLen) {
		if !eligibleStates[iv.Value] {
			continue
		}
		if (iv.Value == WaitResend || iv.Value == WaitRedrop) && !shouldResend {
			continue
		}
		out = append(out, p.splitAtBreaks(iv.Offset, iv.Length, iv.Value)...)
	}
	return out
}

// splitAtBreaks breaks [offset, offset+length) into sub-chunks so that none
// of them crosses a reserved packet-break offset; each break offset b
// becomes its own one-byte sub-chunk [b, b+1) carrying PacketBreak = true.
func (p *OutputPipe) splitAtBreaks(offset, length int64, state DataState) []Chunk {
	drop := state == ToBeDropped || state == WaitRedrop
	var out []Chunk
	pos := offset
	end := offset + length
	for pos < end {
		stop := end
		isBreak := false
		for _, b := range p.packetBreaks {
			if b < pos {
				continue
			}
			if b == pos {
				stop = pos + 1
				isBreak = true
			} else if b < stop {
				stop = b
			}
			break
		}
		sub := Chunk{
			Offset:      pos,
			CRCInit:     crc.CRC16(p.crcAtPos, p.buf[:pos-p.pos]),
			PacketBreak: isBreak,
			Drop:        drop,
		}
		if !drop {
			sub.Data = p.buf[pos-p.pos : stop-p.pos]
		}
		out = append(out, sub)
		pos = stop
	}
	return out
}

// DidEmit registers that [offset, offset+length) was just written to a
// channel. wasReliable selects the terminal state (SENT/DROPPED) versus the
// retry-pending one (WAIT_RESEND/WAIT_REDROP, armed for nextDueTime).
func (p *OutputPipe) DidEmit(offset, length int64, wasReliable bool, nextDueTime time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, iv := range p.state.Intervals(offset, length) {
		var next DataState
		switch iv.Value {
		case ToBeSent, WaitResend:
			if wasReliable {
				next = Sent
			} else {
				next = WaitResend
			}
		case ToBeDropped, WaitRedrop:
			if wasReliable {
				next = Dropped
			} else {
				next = WaitRedrop
			}
		default:
			continue
		}
		p.state.Set(iv.Offset, iv.Length, next)
	}
	if !wasReliable {
		p.nextDueTime = nextDueTime
	}
}

// DidReceiveResponse marks [offset, offset+length) as acknowledged by the
// peer (or, for a dropped range, as drop-confirmed) and compacts the
// physical buffer by discarding any now-acknowledged prefix.
func (p *OutputPipe) DidReceiveResponse(offset, length int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Set(offset, length, ResponseReceived)
	p.compactLocked()
}

// compactLocked drops the leading run of RESPONSE_RECEIVED bytes from buf,
// advancing pos and rolling crcAtPos forward over the discarded prefix.
func (p *OutputPipe) compactLocked() {
	for _, iv := range p.state.Intervals(p.pos, int64(len(p.buf))) {
		if iv.Value != ResponseReceived || iv.Offset != p.pos {
			break
		}
		dropped := p.buf[:iv.Length]
		p.crcAtPos = crc.CRC16(p.crcAtPos, dropped)
		p.buf = p.buf[iv.Length:]
		p.pos += iv.Length
		for len(p.packetBreaks) > 0 && p.packetBreaks[0] < p.pos {
			p.packetBreaks = p.packetBreaks[1:]
		}
	}
}

// DropRange requests dropping of [offset, offset+length). Only ranges that
// have not yet been acknowledged transition; RESPONSE_RECEIVED ranges are
// left alone since the peer already has (or has been told to discard) them.
func (p *OutputPipe) DropRange(offset, length int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, iv := range p.state.Intervals(offset, length) {
		switch iv.Value {
		case ToBeSent, WaitResend, Sent:
			p.state.Set(iv.Offset, iv.Length, ToBeDropped)
		}
	}
}

// Close releases the pipe's slot, returning a continuation that lets a
// later acquire of the same slot resume mid-stream.
func (p *OutputPipe) Close() SuspendedOutputPipe {
	p.mu.Lock()
	defer p.mu.Unlock()
	return SuspendedOutputPipe{Offset: p.pos + int64(len(p.buf)), CRC: crc.CRC16(p.crcAtPos, p.buf)}
}
