// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package remotenode

import (
	"fmt"
	"io"
)

// Handshake exchanges 16-byte node UUIDs over conn (spec §4.6: a RemoteNode
// channel's first act is a bare UUID exchange, no framing). It writes the
// local UUID concurrently with reading the peer's, so a pair of peers
// handshaking each other at the same time over a duplex stream do not
// deadlock, even when the stream does not buffer the write.
func Handshake(conn io.ReadWriter, localUUID [16]byte) ([16]byte, error) {
	writeErr := make(chan error, 1)
	go func() {
		_, err := conn.Write(localUUID[:])
		writeErr <- err
	}()

	var peerUUID [16]byte
	if _, err := io.ReadFull(conn, peerUUID[:]); err != nil {
		return [16]byte{}, fmt.Errorf("remotenode: handshake read: %w", err)
	}
	if err := <-writeErr; err != nil {
		return [16]byte{}, fmt.Errorf("remotenode: handshake write: %w", err)
	}
	return peerUUID, nil
}
