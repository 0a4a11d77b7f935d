// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package streamqueue adapts an InputPipe's push-based delivery
// (ProcessBytes, called from whatever goroutine owns the ChannelDecoder)
// to the blocking, exact-length reads a Call's receive socket or a
// server-side invocation context needs. Grounded on the teacher's
// RingBuffer (sync.Cond-guarded producer/consumer, broadcast-on-write);
// unlike RingBuffer this is unbounded and never wraps, since one call's
// request or response is bounded and short-lived.
package streamqueue

import (
	"context"
	"sync"

	"github.com/fibre-rpc/fibre/internal/fibreerr"
)

// Queue implements pipe.InputHandler and a blocking, exact-length Read.
type Queue struct {
	mu       sync.Mutex
	notEmpty sync.Cond
	buf      []byte
	closed   bool
	err      error
}

// New returns an empty, open queue.
func New() *Queue {
	q := &Queue{}
	q.notEmpty.L = &q.mu
	return q
}

// ProcessBytes implements pipe.InputHandler.
func (q *Queue) ProcessBytes(data []byte) {
	q.mu.Lock()
	q.buf = append(q.buf, data...)
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}

// CloseWithError unblocks every pending and future ReadExact with err.
func (q *Queue) CloseWithError(err error) {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.err = err
	}
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}

// ReadExact blocks until exactly n bytes are available, the queue is
// closed, or ctx is cancelled.
func (q *Queue) ReadExact(ctx context.Context, n int) ([]byte, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			q.notEmpty.Broadcast()
		case <-done:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.buf) < n && !q.closed && ctx.Err() == nil {
		q.notEmpty.Wait()
	}
	if ctx.Err() != nil {
		return nil, fibreerr.ErrCancelled
	}
	if len(q.buf) < n {
		if q.err != nil {
			return nil, q.err
		}
		return nil, fibreerr.ErrClosed
	}
	out := make([]byte, n)
	copy(out, q.buf[:n])
	q.buf = q.buf[n:]
	return out, nil
}
