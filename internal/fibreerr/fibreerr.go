// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package fibreerr defines the sentinel error kinds shared across the Fibre
// core. Call sites wrap these with fmt.Errorf("...: %w", err) and compare
// with errors.Is.
package fibreerr

import "errors"

var (
	// ErrArgumentInvalid marks a call whose arguments could not be encoded
	// or did not match the target function's declared types.
	ErrArgumentInvalid = errors.New("fibre: invalid argument")

	// ErrCancelled marks an operation aborted via a cancellation token or
	// context before it completed.
	ErrCancelled = errors.New("fibre: cancelled")

	// ErrClosed marks a pipe, channel, or call that reached end-of-stream.
	ErrClosed = errors.New("fibre: closed")

	// ErrBusy marks backpressure: a pool had no free slot, or a channel had
	// no non-blocking capacity this round.
	ErrBusy = errors.New("fibre: busy")

	// ErrProtocol marks a malformed frame, a CRC-init mismatch, or an
	// unsupported codec on the wire.
	ErrProtocol = errors.New("fibre: protocol error")

	// ErrHostUnreachable marks an object reference or remote node that no
	// longer has any live channel.
	ErrHostUnreachable = errors.New("fibre: host unreachable")

	// ErrInternal marks a condition that should be structurally impossible.
	ErrInternal = errors.New("fibre: internal error")
)
