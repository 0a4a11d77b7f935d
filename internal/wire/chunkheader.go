// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package wire implements the Fibre chunk-framed channel codec: the 8-byte
// chunk header, the ChannelDecoder state machine that demultiplexes an
// incoming byte stream into chunks for the right InputPipe, the legacy
// stream framing used by byte-oriented transports that can't preserve
// packet boundaries, and a transport-agnostic PING/PONG liveness probe.
package wire

import (
	"encoding/binary"
	"fmt"
)

// PerPacketOverhead is the per-packet budget reserved by the channel frame
// itself (16-byte handshake UUID + 2-byte reserved CRC) that the scheduler
// subtracts from a channel's min_non_blocking_bytes before considering any
// chunk. See spec §4.6 and the resolution of open question (b).
const PerPacketOverhead = 18

// PerChunkOverhead is the size in bytes of one ChunkHeader on the wire.
const PerChunkOverhead = 8

// ChunkHeader is the 8-byte header preceding every chunk's payload:
// pipe_id (u16 LE), offset (u16 LE), crc_init (u16 LE), and a length field
// whose bit 0 is the packet-break flag and bits 1..15 are the payload
// length in bytes.
//
// A drop marker (§9 open question (a)) is a ChunkHeader with Length() == 0
// and PacketBreak() == true; the dropped range's true length lives only in
// the sender's own IntervalList bookkeeping and is not reconstructed by the
// receiver from the wire.
type ChunkHeader struct {
	PipeID      uint16
	Offset      uint16
	CRCInit     uint16
	lengthField uint16
}

// NewChunkHeader packs length and packetBreak into the wire length field.
// length must fit in 15 bits.
func NewChunkHeader(pipeID, offset, crcInit uint16, length int, packetBreak bool) ChunkHeader {
	field := uint16(length) << 1
	if packetBreak {
		field |= 1
	}
	return ChunkHeader{PipeID: pipeID, Offset: offset, CRCInit: crcInit, lengthField: field}
}

// Length returns the payload length in bytes.
func (h ChunkHeader) Length() int { return int(h.lengthField >> 1) }

// PacketBreak reports whether this chunk consumes the reserved frame-
// boundary offset.
func (h ChunkHeader) PacketBreak() bool { return h.lengthField&1 != 0 }

// Encode writes the 8-byte little-endian header representation.
func (h ChunkHeader) Encode() [8]byte {
	var buf [8]byte
	binary.LittleEndian.PutUint16(buf[0:2], h.PipeID)
	binary.LittleEndian.PutUint16(buf[2:4], h.Offset)
	binary.LittleEndian.PutUint16(buf[4:6], h.CRCInit)
	binary.LittleEndian.PutUint16(buf[6:8], h.lengthField)
	return buf
}

// DecodeChunkHeader parses an 8-byte header buffer.
func DecodeChunkHeader(buf []byte) (ChunkHeader, error) {
	if len(buf) != 8 {
		return ChunkHeader{}, fmt.Errorf("wire: chunk header must be 8 bytes, got %d", len(buf))
	}
	return ChunkHeader{
		PipeID:      binary.LittleEndian.Uint16(buf[0:2]),
		Offset:      binary.LittleEndian.Uint16(buf[2:4]),
		CRCInit:     binary.LittleEndian.Uint16(buf[4:6]),
		lengthField: binary.LittleEndian.Uint16(buf[6:8]),
	}, nil
}

// IsClientPool reports whether PipeID addresses the client-initiated pool
// (bit 0 set) as opposed to the server-initiated pool.
func (h ChunkHeader) IsClientPool() bool { return h.PipeID&1 != 0 }

// SlotIndex returns the pool index the PipeID addresses (PipeID >> 1).
func (h ChunkHeader) SlotIndex() uint16 { return h.PipeID >> 1 }
