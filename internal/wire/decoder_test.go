// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fibre-rpc/fibre/internal/crc"
	"github.com/fibre-rpc/fibre/internal/pipe"
)

var errNoSuchPipe = errors.New("no such pipe")

type collectingHandler struct{ got []byte }

func (h *collectingHandler) ProcessBytes(data []byte) { h.got = append(h.got, data...) }

type singlePipeResolver struct {
	clientPool bool
	slot       uint16
	input      *pipe.InputPipe
}

func (r *singlePipeResolver) ResolveInputPipe(clientPool bool, slot uint16) (*pipe.InputPipe, error) {
	if clientPool == r.clientPool && slot == r.slot {
		return r.input, nil
	}
	return nil, errNoSuchPipe
}

func TestChannelDecoderDeliversOneChunk(t *testing.T) {
	input := pipe.NewInputPipe(3, nil, pipe.SuspendedInputPipe{CRC: crc.CRC16Init})
	h := &collectingHandler{}
	input.SetInputHandler(h)

	resolver := &singlePipeResolver{clientPool: true, slot: 3, input: input}
	dec := NewChannelDecoder(resolver, nil)

	payload := []byte("hello")
	hdr := NewChunkHeader(uint16(3<<1|1), 0, crc.CRC16Init, len(payload), false)
	enc := hdr.Encode()

	dec.ProcessBytes(enc[:])
	dec.ProcessBytes(payload)

	if !bytes.Equal(h.got, payload) {
		t.Fatalf("handler got %q, want %q", h.got, payload)
	}
}

func TestChannelDecoderMinUsefulBytes(t *testing.T) {
	resolver := &singlePipeResolver{}
	dec := NewChannelDecoder(resolver, nil)

	if got := dec.MinUsefulBytes(); got != 8 {
		t.Fatalf("fresh decoder MinUsefulBytes = %d, want 8", got)
	}
	dec.ProcessBytes([]byte{0xaa, 0xbb, 0xcc})
	if got := dec.MinUsefulBytes(); got != 5 {
		t.Fatalf("after 3 header bytes, MinUsefulBytes = %d, want 5", got)
	}
}

func TestChannelDecoderSplitAcrossCalls(t *testing.T) {
	input := pipe.NewInputPipe(1, nil, pipe.SuspendedInputPipe{CRC: crc.CRC16Init})
	h := &collectingHandler{}
	input.SetInputHandler(h)

	resolver := &singlePipeResolver{clientPool: false, slot: 1, input: input}
	dec := NewChannelDecoder(resolver, nil)

	payload := []byte("world!")
	hdr := NewChunkHeader(uint16(1<<1), 0, crc.CRC16Init, len(payload), false)
	enc := hdr.Encode()

	full := append(append([]byte{}, enc[:]...), payload...)
	// Feed one byte at a time to exercise the header/payload split across
	// many small ProcessBytes calls.
	for _, b := range full {
		dec.ProcessBytes([]byte{b})
	}

	if !bytes.Equal(h.got, payload) {
		t.Fatalf("handler got %q, want %q", h.got, payload)
	}
}
