// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"fmt"
)

// MagicPing and MagicPong identify the RTT-aware health probe exchange
// (SPEC_FULL.md §D.5), a generalization of the teacher's ControlPing/
// ControlPong that works over any channel pair, independent of the chunk
// pipe machinery.
var (
	MagicPing = [4]byte{'F', 'P', 'N', 'G'}
	MagicPong = [4]byte{'F', 'P', 'O', 'N'}
)

// Ping carries the sender's monotonic send time so the receiver can echo it
// back for RTT measurement.
type Ping struct {
	SentAtNano int64
}

// Pong echoes the ping's timestamp alongside the responder's own liveness
// signal.
type Pong struct {
	SentAtNano int64
	Alive      bool
}

// EncodePing serializes a Ping: [Magic 4B][SentAtNano int64 8B].
func EncodePing(p Ping) []byte {
	buf := make([]byte, 12)
	copy(buf[0:4], MagicPing[:])
	binary.LittleEndian.PutUint64(buf[4:12], uint64(p.SentAtNano))
	return buf
}

// DecodePing parses a Ping frame encoded by EncodePing.
func DecodePing(buf []byte) (Ping, error) {
	if len(buf) != 12 {
		return Ping{}, fmt.Errorf("wire: ping frame must be 12 bytes, got %d", len(buf))
	}
	if [4]byte(buf[0:4]) != MagicPing {
		return Ping{}, fmt.Errorf("wire: bad ping magic %q", buf[0:4])
	}
	return Ping{SentAtNano: int64(binary.LittleEndian.Uint64(buf[4:12]))}, nil
}

// EncodePong serializes a Pong: [Magic 4B][SentAtNano int64 8B][Alive 1B].
func EncodePong(p Pong) []byte {
	buf := make([]byte, 13)
	copy(buf[0:4], MagicPong[:])
	binary.LittleEndian.PutUint64(buf[4:12], uint64(p.SentAtNano))
	if p.Alive {
		buf[12] = 1
	}
	return buf
}

// DecodePong parses a Pong frame encoded by EncodePong.
func DecodePong(buf []byte) (Pong, error) {
	if len(buf) != 13 {
		return Pong{}, fmt.Errorf("wire: pong frame must be 13 bytes, got %d", len(buf))
	}
	if [4]byte(buf[0:4]) != MagicPong {
		return Pong{}, fmt.Errorf("wire: bad pong magic %q", buf[0:4])
	}
	return Pong{
		SentAtNano: int64(binary.LittleEndian.Uint64(buf[4:12])),
		Alive:      buf[12] != 0,
	}, nil
}
