// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"log/slog"

	"github.com/fibre-rpc/fibre/internal/crc"
)

// StreamSyncByte marks the start of a legacy-framed packet.
const StreamSyncByte = 0xAA

// maxStreamPacketLen is the largest payload the 7-bit length field can hold.
const maxStreamPacketLen = 0x7f

// EncodeStreamPacket wraps payload in the legacy stream frame used by
// byte-oriented transports that cannot preserve packet boundaries on their
// own (spec §6.2): a SYNC/length/CRC-8 header followed by the payload and a
// big-endian CRC-16 trailer. payload must be at most 127 bytes.
func EncodeStreamPacket(payload []byte) []byte {
	if len(payload) > maxStreamPacketLen {
		panic("wire: legacy stream packet payload too large")
	}

	header := [3]byte{StreamSyncByte, byte(len(payload)), 0}
	header[2] = crc.CRC8(crc.CRC8Init, header[:2])

	trailerCRC := crc.CRC16(crc.CRC16Init, payload)
	var trailer [2]byte
	binary.BigEndian.PutUint16(trailer[:], trailerCRC)

	out := make([]byte, 0, len(header)+len(payload)+len(trailer))
	out = append(out, header[:]...)
	out = append(out, payload...)
	out = append(out, trailer[:]...)
	return out
}

// PacketHandler receives fully reassembled, CRC-verified legacy packets.
type PacketHandler interface {
	HandlePacket(payload []byte)
}

type streamFramerState int

const (
	streamSeekingSync streamFramerState = iota
	streamReadingLength
	streamReadingBody
)

// StreamFramer reassembles a byte stream framed with EncodeStreamPacket
// back into packets, resynchronizing on the next SYNC byte whenever the
// length field or either CRC fails to validate.
type StreamFramer struct {
	handler PacketHandler
	logger  *slog.Logger

	state      streamFramerState
	length     byte
	body       []byte
	wantLength int
}

// NewStreamFramer constructs a StreamFramer delivering decoded packets to handler.
func NewStreamFramer(handler PacketHandler, logger *slog.Logger) *StreamFramer {
	return &StreamFramer{handler: handler, logger: logger, state: streamSeekingSync}
}

// ProcessBytes feeds newly-arrived bytes through reassembly.
func (f *StreamFramer) ProcessBytes(buf []byte) {
	for len(buf) > 0 {
		switch f.state {
		case streamSeekingSync:
			i := 0
			for i < len(buf) && buf[i] != StreamSyncByte {
				i++
			}
			buf = buf[i:]
			if len(buf) == 0 {
				return
			}
			f.body = f.body[:0]
			f.state = streamReadingLength
			buf = buf[1:]

		case streamReadingLength:
			length := buf[0]
			buf = buf[1:]
			if length&0x80 != 0 {
				f.logWarn("legacy frame length byte has MSB set")
				f.state = streamSeekingSync
				continue
			}
			f.length = length
			f.state = streamReadingBody
			f.body = append(f.body[:0], StreamSyncByte, length)
			f.wantLength = -1 // sentinel: next byte is the header CRC

		case streamReadingBody:
			if f.wantLength == -1 {
				headerCRC := buf[0]
				buf = buf[1:]
				expected := crc.CRC8(crc.CRC8Init, f.body)
				if headerCRC != expected {
					f.logWarn("legacy frame header crc8 mismatch")
					f.state = streamSeekingSync
					continue
				}
				f.wantLength = int(f.length) + 2 // payload + CRC-16 trailer
				f.body = f.body[:0]
				continue
			}

			need := f.wantLength - len(f.body)
			n := need
			if n > len(buf) {
				n = len(buf)
			}
			f.body = append(f.body, buf[:n]...)
			buf = buf[n:]

			if len(f.body) < f.wantLength {
				continue
			}

			payload := f.body[:f.length]
			trailer := f.body[f.length:]
			gotTrailer := binary.BigEndian.Uint16(trailer)
			if crc.CRC16(crc.CRC16Init, payload) != gotTrailer {
				f.logWarn("legacy frame crc16 mismatch")
			} else if f.handler != nil {
				f.handler.HandlePacket(payload)
			}
			f.state = streamSeekingSync
		}
	}
}

func (f *StreamFramer) logWarn(msg string) {
	if f.logger != nil {
		f.logger.Warn(msg)
	}
}
