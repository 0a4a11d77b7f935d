// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewAssignsARandomUUID(t *testing.T) {
	a := New(testLogger(), 4, rate.Limit(1), 1, time.Minute)
	b := New(testLogger(), 4, rate.Limit(1), 1, time.Minute)
	if a.UUID == b.UUID {
		t.Fatalf("expected two Runtimes to get distinct random UUIDs")
	}
	var zero [16]byte
	if a.UUID == zero {
		t.Fatalf("expected a non-zero UUID")
	}
}

func TestGetOrCreateNodeReturnsSameNodeForSamePeer(t *testing.T) {
	rt := New(testLogger(), 4, rate.Limit(1), 1, time.Minute)
	peer := [16]byte{1, 2, 3}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n1 := rt.GetOrCreateNode(ctx, peer)
	n2 := rt.GetOrCreateNode(ctx, peer)
	if n1 != n2 {
		t.Fatalf("expected the same RemoteNode instance for a repeated peer UUID")
	}
	if _, ok := rt.LookupNode(peer); !ok {
		t.Fatalf("expected LookupNode to find the peer after GetOrCreateNode")
	}
	rt.Stop()
}

func TestLookupNodeMissingPeerReturnsFalse(t *testing.T) {
	rt := New(testLogger(), 4, rate.Limit(1), 1, time.Minute)
	if _, ok := rt.LookupNode([16]byte{9, 9}); ok {
		t.Fatalf("expected no node for an unregistered peer")
	}
}

func TestNodesSnapshotIsIndependentOfInternalMap(t *testing.T) {
	rt := New(testLogger(), 4, rate.Limit(1), 1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.GetOrCreateNode(ctx, [16]byte{1})

	snap := rt.Nodes()
	if len(snap) != 1 {
		t.Fatalf("expected 1 node in snapshot, got %d", len(snap))
	}
	delete(snap, [16]byte{1})
	if _, ok := rt.LookupNode([16]byte{1}); !ok {
		t.Fatalf("mutating the returned snapshot must not affect the runtime's registry")
	}
	rt.Stop()
}

func TestReapEvictsNodeIdlePastGraceAndInvokesCallback(t *testing.T) {
	rt := New(testLogger(), 4, rate.Limit(1), 1, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	peer := [16]byte{7, 7, 7}
	n := rt.GetOrCreateNode(ctx, peer)

	evicted := make(chan [16]byte, 1)
	rt.OnNodeEvicted(func(p [16]byte) { evicted <- p })

	ch := &noopChannel{}
	n.AddOutputChannel(ch)
	n.RemoveOutputChannel(ch)

	time.Sleep(20 * time.Millisecond)
	rt.reap()

	select {
	case got := <-evicted:
		if got != peer {
			t.Fatalf("evicted callback got peer %x, want %x", got, peer)
		}
	default:
		t.Fatalf("expected the idle node to be reaped")
	}
	if _, ok := rt.LookupNode(peer); ok {
		t.Fatalf("expected the reaped node to be removed from the registry")
	}
}

func TestReapLeavesActiveNodeAlone(t *testing.T) {
	rt := New(testLogger(), 4, rate.Limit(1), 1, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	peer := [16]byte{8, 8, 8}
	n := rt.GetOrCreateNode(ctx, peer)
	n.AddOutputChannel(&noopChannel{})

	rt.reap()
	if _, ok := rt.LookupNode(peer); !ok {
		t.Fatalf("expected a node with an active channel to survive reaping")
	}
	rt.Stop()
}

func TestScanRegistryAllowThrottlesPerTarget(t *testing.T) {
	reg := NewScanRegistry(rate.Limit(0), 1)
	if !reg.Allow("10.0.0.1") {
		t.Fatalf("expected the first probe to be allowed (initial burst)")
	}
	if reg.Allow("10.0.0.1") {
		t.Fatalf("expected a second immediate probe of the same target to be throttled")
	}
	if !reg.Allow("10.0.0.2") {
		t.Fatalf("expected a distinct target to have its own, unconsumed bucket")
	}
}

func TestScanRegistryForgetResetsBucket(t *testing.T) {
	reg := NewScanRegistry(rate.Limit(0), 1)
	reg.Allow("10.0.0.1")
	reg.Forget("10.0.0.1")
	if !reg.Allow("10.0.0.1") {
		t.Fatalf("expected a forgotten target to get a fresh bucket")
	}
}

func TestSetNodeLogDirOpensAndRemovesPerNodeLogFile(t *testing.T) {
	dir := t.TempDir()
	rt := New(testLogger(), 4, rate.Limit(1), 1, 10*time.Millisecond)
	rt.SetNodeLogDir(dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	peer := [16]byte{3, 3, 3}
	n := rt.GetOrCreateNode(ctx, peer)

	logPath := filepath.Join(dir, fmt.Sprintf("%x", peer)+".log")
	if _, err := os.Stat(logPath); err != nil {
		t.Fatalf("expected a per-node log file at %s: %v", logPath, err)
	}

	ch := &noopChannel{}
	n.AddOutputChannel(ch)
	n.RemoveOutputChannel(ch)
	time.Sleep(20 * time.Millisecond)
	rt.reap()

	if _, err := os.Stat(logPath); !os.IsNotExist(err) {
		t.Fatalf("expected the per-node log file to be removed after reaping, stat err: %v", err)
	}
}

type noopChannel struct{}

func (noopChannel) MinNonBlockingBytes() int      { return 0 }
func (noopChannel) WriteBytes(data []byte) error  { return nil }
func (noopChannel) ResendInterval() time.Duration { return time.Second }
func (noopChannel) Reliable() bool                { return true }
