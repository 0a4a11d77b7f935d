// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"log/slog"

	"github.com/fibre-rpc/fibre/internal/crc"
	"github.com/fibre-rpc/fibre/internal/pipe"
)

type decoderState int

const (
	stateInHeader decoderState = iota
	stateInPayload
)

// PipeResolver looks up the InputPipe a decoded chunk header addresses,
// given the pool selector bit and slot index already split out by the
// caller. A RemoteNode implements it over its client/server IndexPools.
type PipeResolver interface {
	ResolveInputPipe(clientPool bool, slotIndex uint16) (*pipe.InputPipe, error)
}

// ChannelDecoder parses the chunk stream arriving on one channel and
// forwards each chunk's payload to the right InputPipe, per spec §4.5.
type ChannelDecoder struct {
	resolver PipeResolver
	logger   *slog.Logger

	state     decoderState
	headerBuf []byte

	pipeID      uint16
	chunkOffset uint16
	chunkCRC    uint16
	chunkLength int

	input *pipe.InputPipe
}

// NewChannelDecoder constructs a decoder starting in header-reading state.
func NewChannelDecoder(resolver PipeResolver, logger *slog.Logger) *ChannelDecoder {
	return &ChannelDecoder{resolver: resolver, logger: logger, state: stateInHeader}
}

// ProcessBytes feeds newly-arrived bytes through the decoder. It may
// dispatch zero or more payload spans to InputPipes before returning.
func (d *ChannelDecoder) ProcessBytes(buf []byte) {
	for len(buf) > 0 {
		if d.state == stateInHeader {
			remaining := 8 - len(d.headerBuf)
			if remaining > len(buf) {
				remaining = len(buf)
			}
			d.headerBuf = append(d.headerBuf, buf[:remaining]...)
			buf = buf[remaining:]

			if len(d.headerBuf) < 8 {
				continue
			}

			hdr, err := DecodeChunkHeader(d.headerBuf)
			d.headerBuf = d.headerBuf[:0]
			if err != nil {
				d.logWarn("malformed chunk header")
				continue
			}

			input, err := d.resolver.ResolveInputPipe(hdr.IsClientPool(), hdr.SlotIndex())
			if err != nil {
				d.logWarn("no pipe for chunk: " + err.Error())
				// Skip the announced payload so the stream resynchronizes
				// at the next header.
				d.pipeID = hdr.PipeID
				d.chunkOffset = hdr.Offset
				d.chunkCRC = hdr.CRCInit
				d.chunkLength = hdr.Length()
				d.input = nil
				d.state = stateInPayload
				continue
			}

			d.pipeID = hdr.PipeID
			d.chunkOffset = hdr.Offset
			d.chunkCRC = hdr.CRCInit
			d.chunkLength = hdr.Length()
			d.input = input
			d.state = stateInPayload
		} else {
			n := d.chunkLength
			if n > len(buf) {
				n = len(buf)
			}
			payload := buf[:n]
			if d.input != nil {
				// chunkOffset is the wire's 16-bit rolling offset field, not
				// the pipe's full absolute position; InputPipe.ProcessChunk
				// reconciles it against its own tracked pos.
				d.input.ProcessChunk(payload, int64(d.chunkOffset), d.chunkCRC)
			}
			d.chunkCRC = crc.CRC16(d.chunkCRC, payload)
			buf = buf[n:]
			d.chunkOffset += uint16(n)
			d.chunkLength -= n

			if d.chunkLength == 0 {
				d.state = stateInHeader
				d.headerBuf = d.headerBuf[:0]
			}
		}
	}
}

// MinUsefulBytes returns how many more bytes the decoder needs to make
// progress: the remainder of the 8-byte header while assembling one, or 1
// while mid-payload (any single byte advances the state machine).
func (d *ChannelDecoder) MinUsefulBytes() int {
	if d.state == stateInHeader {
		return 8 - len(d.headerBuf)
	}
	return 1
}

func (d *ChannelDecoder) logWarn(msg string) {
	if d.logger != nil {
		d.logger.Warn(msg)
	}
}
