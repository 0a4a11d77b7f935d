// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package remotenode

import (
	"bytes"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testNode() *Node {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New([16]byte{1, 2, 3}, logger, 4)
}

func TestGetClientPipePairLazilyConstructs(t *testing.T) {
	n := testNode()
	pair := n.GetClientPipePair(0, true)
	if pair == nil || pair.Input == nil || pair.Output == nil {
		t.Fatalf("expected constructed pipe pair, got %+v", pair)
	}
	if pair.Input.PipeID != 1 {
		t.Fatalf("client slot 0 should have pipe id 1 (bit0 set), got %d", pair.Input.PipeID)
	}

	again := n.GetClientPipePair(0, true)
	if again != pair {
		t.Fatalf("expected the same pair on a second acquire of the same slot")
	}
}

func TestGetServerPipePairUsesEvenPipeID(t *testing.T) {
	n := testNode()
	pair := n.GetServerPipePair(2, true)
	if pair.Input.PipeID != 4 {
		t.Fatalf("server slot 2 should have pipe id 4 (2<<1), got %d", pair.Input.PipeID)
	}
}

func TestReleaseClientPipePairFreesSlotForReacquire(t *testing.T) {
	n := testNode()
	pair := n.GetClientPipePair(0, true)
	pair.Output.SendBytes([]byte("hi"), false)

	n.ReleaseClientPipePair(0)

	resumed := n.GetClientPipePair(0, true)
	if resumed == pair {
		t.Fatalf("expected a fresh pair object after release")
	}
	if resumed.Output.CurrentPos() != pair.Output.CurrentPos() {
		t.Fatalf("expected continuation offset to carry over: got %d want %d", resumed.Output.CurrentPos(), pair.Output.CurrentPos())
	}
}

func TestResolveInputPipeDispatchesToCorrectPool(t *testing.T) {
	n := testNode()
	clientInput, err := n.ResolveInputPipe(true, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clientInput.PipeID != 3 {
		t.Fatalf("expected pipe id 3 (1<<1|1), got %d", clientInput.PipeID)
	}

	serverInput, err := n.ResolveInputPipe(false, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if serverInput.PipeID != 2 {
		t.Fatalf("expected pipe id 2 (1<<1), got %d", serverInput.PipeID)
	}

	if _, err := n.ResolveInputPipe(true, 99); err == nil {
		t.Fatalf("expected out-of-range slot to error")
	}
}

// fakeChannel is an OutputChannel backed by an in-memory buffer, used to
// observe exactly what the scheduler writes.
type fakeChannel struct {
	budget   int
	buf      bytes.Buffer
	resend   time.Duration
	reliable bool
}

func (c *fakeChannel) MinNonBlockingBytes() int      { return c.budget }
func (c *fakeChannel) WriteBytes(data []byte) error  { c.buf.Write(data); return nil }
func (c *fakeChannel) ResendInterval() time.Duration { return c.resend }
func (c *fakeChannel) Reliable() bool                { return c.reliable }

func TestSchedulerEmitsBufferedBytesOnNotify(t *testing.T) {
	n := testNode()
	pair := n.GetClientPipePair(0, true)
	pair.Output.SendBytes([]byte("hello"), false)

	ch := &fakeChannel{budget: 64, resend: time.Minute, reliable: true}
	n.AddOutputChannel(ch)

	now := time.Now()
	n.serviceChannel(ch, now)

	if ch.buf.Len() == 0 {
		t.Fatalf("expected scheduler to have written a frame")
	}
	written := ch.buf.Bytes()
	if len(written) < 8+5 {
		t.Fatalf("expected at least header+payload, got %d bytes", len(written))
	}
	if !bytes.Equal(written[8:], []byte("hello")) {
		t.Fatalf("expected payload %q, got %q", "hello", written[8:])
	}
}

func TestSchedulerRespectsChannelBudget(t *testing.T) {
	n := testNode()
	pair := n.GetClientPipePair(0, true)
	pair.Output.SendBytes([]byte("0123456789"), false)

	// budget after per-packet overhead (18) leaves only a few bytes for
	// header+payload; per-chunk overhead is 8, so only 2 payload bytes fit.
	ch := &fakeChannel{budget: 18 + 8 + 2, resend: time.Minute, reliable: true}
	n.serviceChannel(ch, time.Now())

	written := ch.buf.Bytes()
	if len(written) != 10 {
		t.Fatalf("expected exactly one truncated 8+2 byte frame, got %d bytes", len(written))
	}
	if string(written[8:]) != "01" {
		t.Fatalf("expected truncated payload %q, got %q", "01", written[8:])
	}
}

func TestSchedulerUnreliableChannelGoesToWaitResend(t *testing.T) {
	n := testNode()
	pair := n.GetClientPipePair(0, true)
	pair.Output.SendBytes([]byte("ab"), false)

	ch := &fakeChannel{budget: 64, resend: time.Hour, reliable: false}
	n.serviceChannel(ch, time.Now())

	if ch.buf.Len() == 0 {
		t.Fatalf("expected a frame to be written")
	}
	// a second round before the resend interval elapses should not re-emit.
	ch.buf.Reset()
	n.serviceChannel(ch, time.Now())
	if ch.buf.Len() != 0 {
		t.Fatalf("expected no re-emission before resend interval elapses, got %d bytes", ch.buf.Len())
	}
}

func TestSchedulerFireAndForgetDoesNotWaitForResend(t *testing.T) {
	n := testNode()
	pair := n.GetClientPipePair(0, false) // ensureDelivery = false
	pair.Output.SendBytes([]byte("ab"), false)

	ch := &fakeChannel{budget: 64, resend: time.Hour, reliable: false}
	n.serviceChannel(ch, time.Now())
	if ch.buf.Len() == 0 {
		t.Fatalf("expected a frame to be written")
	}

	// fire-and-forget ranges are marked RESPONSE_RECEIVED immediately, so a
	// second round must find nothing pending regardless of resend interval.
	ch.buf.Reset()
	n.serviceChannel(ch, time.Now())
	if ch.buf.Len() != 0 {
		t.Fatalf("expected no re-emission for a fire-and-forget pipe, got %d bytes", ch.buf.Len())
	}
}

func TestHandshakeExchangesUUIDs(t *testing.T) {
	a, b := newPipeConn()
	local := [16]byte{9, 9, 9}
	peer := [16]byte{8, 8, 8}

	resultCh := make(chan [16]byte, 1)
	errCh := make(chan error, 1)
	go func() {
		got, err := Handshake(a, local)
		resultCh <- got
		errCh <- err
	}()

	got, err := Handshake(b, peer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != local {
		t.Fatalf("expected to read local uuid %v, got %v", local, got)
	}

	otherGot := <-resultCh
	if otherErr := <-errCh; otherErr != nil {
		t.Fatalf("unexpected error from other side: %v", otherErr)
	}
	if otherGot != peer {
		t.Fatalf("expected other side to read peer uuid %v, got %v", peer, otherGot)
	}
}

// pipeConn returns two io.ReadWriters connected by an in-memory duplex pipe.
type halfConn struct {
	r io.Reader
	w io.Writer
}

func (h halfConn) Read(p []byte) (int, error)  { return h.r.Read(p) }
func (h halfConn) Write(p []byte) (int, error) { return h.w.Write(p) }

func newPipeConn() (halfConn, halfConn) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	return halfConn{r: r1, w: w2}, halfConn{r: r2, w: w1}
}
