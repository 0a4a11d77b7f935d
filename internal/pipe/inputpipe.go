// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pipe

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/fibre-rpc/fibre/internal/crc"
)

// InputHandler receives the in-order, deduplicated byte stream an InputPipe
// reassembles. A Call's response demuxer and a server invocation context
// both implement it.
type InputHandler interface {
	ProcessBytes(data []byte)
}

// SuspendedInputPipe captures the continuation state of an InputPipe slot
// released back to its pool.
type SuspendedInputPipe struct {
	Offset int64
	CRC    uint16
}

// InputPipe reassembles out-of-order, possibly duplicated chunks into an
// in-order byte stream for one direction of a pipe pair.
type InputPipe struct {
	PipeID int64

	mu      sync.Mutex
	logger  *slog.Logger
	pos     int64
	crc     uint16
	handler InputHandler
	pending []byte // accepted bytes not yet handed to a handler
}

// NewInputPipe constructs an InputPipe resuming from a suspended
// continuation. A fresh pipe starts from Offset 0 and CRC crc.CRC16Init;
// the zero value of SuspendedInputPipe carries CRC 0, not CRC16Init.
func NewInputPipe(pipeID int64, logger *slog.Logger, resume SuspendedInputPipe) *InputPipe {
	return &InputPipe{
		PipeID: pipeID,
		logger: logger,
		pos:    resume.Offset,
		crc:    resume.CRC,
	}
}

// SetInputHandler attaches the handler that receives reassembled bytes.
// Bytes accepted while no handler was attached are handed to h first.
func (p *InputPipe) SetInputHandler(h InputHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
	if h != nil && len(p.pending) > 0 {
		h.ProcessBytes(p.pending)
		p.pending = nil
	}
}

// ProcessChunk feeds one received chunk through reassembly: disjoint-ahead
// and fully-duplicate chunks are dropped, overlapping prefixes are trimmed,
// a CRC-init mismatch drops a "dangling" chunk without advancing state, and
// otherwise the payload (after trimming) is handed to the input handler in
// order.
func (p *InputPipe) ProcessChunk(data []byte, offset int64, crcInit uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if offset > p.pos {
		p.logf("disjoint chunk reassembly not implemented: offset=%d pos=%d", offset, p.pos)
		return
	}
	if offset+int64(len(data)) <= p.pos {
		p.logf("duplicate data received: offset=%d len=%d pos=%d", offset, len(data), p.pos)
		return
	}
	if offset < p.pos {
		diff := p.pos - offset
		crcInit = crc.CRC16(crcInit, data[:diff])
		data = data[diff:]
		offset += diff
	}
	if crcInit != p.crc {
		p.logf("received dangling chunk: expected crc 0x%04x but got 0x%04x", p.crc, crcInit)
		return
	}
	if p.handler == nil {
		p.pending = append(p.pending, data...)
	} else {
		p.handler.ProcessBytes(data)
	}
	p.pos = offset + int64(len(data))
	p.crc = crc.CRC16(p.crc, data)
}

func (p *InputPipe) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(fmt.Sprintf(format, args...))
	}
}

// Pos returns the next byte offset the pipe expects.
func (p *InputPipe) Pos() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

// CRC returns the running CRC-16 over bytes [0, Pos()).
func (p *InputPipe) CRC() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.crc
}

// Close releases the pipe's slot, returning a continuation for a later
// acquire of the same slot to resume from.
func (p *InputPipe) Close() SuspendedInputPipe {
	p.mu.Lock()
	defer p.mu.Unlock()
	return SuspendedInputPipe{Offset: p.pos, CRC: p.crc}
}
