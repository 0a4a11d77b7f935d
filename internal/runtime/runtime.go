// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package runtime implements the process-wide GlobalState spec §3 assigns
// to a fibre node: its own randomly-generated UUID, a registry of
// RemoteNodes keyed by peer UUID, a rate-limited registry of active-
// discovery scan attempts, and a cron-driven reaper that evicts RemoteNodes
// whose last output channel closed more than a grace period ago.
package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/fibre-rpc/fibre/internal/logging"
	"github.com/fibre-rpc/fibre/internal/remotenode"
)

// Runtime is one process's global state: its own peer identity, the table
// of RemoteNodes it has established with other peers, and the background
// maintenance that keeps that table from growing unbounded.
type Runtime struct {
	UUID [16]byte

	logger        *slog.Logger
	poolCapacity  int
	scanRegistry  *ScanRegistry
	reaperGrace   time.Duration
	reaperCron    *cron.Cron
	onNodeEvicted func(peerUUID [16]byte)
	nodeLogDir    string

	mu             sync.Mutex
	nodes          map[[16]byte]*remotenode.Node
	nodeLogClosers map[[16]byte]io.Closer
}

// New constructs a Runtime with a freshly generated random UUID. scanRate
// and scanBurst configure the token bucket backing ScanRegistry;
// reaperGrace is how long a RemoteNode may sit with zero output channels
// before the reaper evicts it.
func New(logger *slog.Logger, poolCapacity int, scanRate rate.Limit, scanBurst int, reaperGrace time.Duration) *Runtime {
	if poolCapacity <= 0 {
		poolCapacity = 10
	}
	return &Runtime{
		UUID:           uuid.New(),
		logger:         logger,
		poolCapacity:   poolCapacity,
		scanRegistry:   NewScanRegistry(scanRate, scanBurst),
		reaperGrace:    reaperGrace,
		nodes:          make(map[[16]byte]*remotenode.Node),
		nodeLogClosers: make(map[[16]byte]io.Closer),
	}
}

// SetNodeLogDir enables per-RemoteNode log files under dir, one file per
// peer UUID, opened the first time GetOrCreateNode sees that peer and
// closed and removed by the reaper once the node is evicted. Must be
// called before the first GetOrCreateNode if it is to apply to every node;
// nodes created before this call keep logging only to the base logger.
func (r *Runtime) SetNodeLogDir(dir string) {
	r.mu.Lock()
	r.nodeLogDir = dir
	r.mu.Unlock()
}

// OnNodeEvicted registers a callback invoked (outside any internal lock)
// whenever the reaper removes a node from the table, so a caller can tear
// down transport-level resources (e.g. close lingering connections, remove
// a per-node log file) keyed on the peer UUID.
func (r *Runtime) OnNodeEvicted(fn func(peerUUID [16]byte)) {
	r.mu.Lock()
	r.onNodeEvicted = fn
	r.mu.Unlock()
}

// ScanRegistry returns the rate-limited active-discovery scan registry.
func (r *Runtime) ScanRegistry() *ScanRegistry {
	return r.scanRegistry
}

// GetOrCreateNode returns the RemoteNode for peerUUID, constructing and
// starting one if this is the first time this peer has been seen.
func (r *Runtime) GetOrCreateNode(ctx context.Context, peerUUID [16]byte) *remotenode.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[peerUUID]; ok {
		return n
	}

	nodeLogger := r.logger
	if r.nodeLogDir != "" {
		logger, closer, _, err := logging.NewNodeLogger(r.logger, r.nodeLogDir, fmt.Sprintf("%x", peerUUID))
		if err != nil {
			r.logger.Error("opening per-node log file", "peer_uuid", fmt.Sprintf("%x", peerUUID), "error", err)
		} else {
			nodeLogger = logger
			r.nodeLogClosers[peerUUID] = closer
		}
	}

	n := remotenode.New(peerUUID, nodeLogger, r.poolCapacity)
	n.Start(ctx)
	r.nodes[peerUUID] = n
	return n
}

// LookupNode returns the RemoteNode for peerUUID, if one has been created.
func (r *Runtime) LookupNode(peerUUID [16]byte) (*remotenode.Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[peerUUID]
	return n, ok
}

// Nodes returns a snapshot of every currently registered RemoteNode.
func (r *Runtime) Nodes() map[[16]byte]*remotenode.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[[16]byte]*remotenode.Node, len(r.nodes))
	for k, v := range r.nodes {
		out[k] = v
	}
	return out
}

// Start launches the reaper cron job. It is a no-op if reaperGrace is <= 0
// (reaping disabled).
func (r *Runtime) Start() {
	if r.reaperGrace <= 0 {
		return
	}
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(r.logger.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc("@every 1m", r.reap); err != nil {
		r.logger.Error("scheduling reaper", "error", err)
		return
	}
	r.reaperCron = c
	c.Start()
}

// Stop stops the reaper cron job and every registered RemoteNode.
func (r *Runtime) Stop() {
	if r.reaperCron != nil {
		<-r.reaperCron.Stop().Done()
	}
	r.mu.Lock()
	nodes := make([]*remotenode.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		nodes = append(nodes, n)
	}
	r.mu.Unlock()
	for _, n := range nodes {
		n.Stop()
	}
}

func (r *Runtime) reap() {
	type evictedNode struct {
		peerUUID [16]byte
		node     *remotenode.Node
	}
	var evicted []evictedNode

	r.mu.Lock()
	fn := r.onNodeEvicted
	nodeLogDir := r.nodeLogDir
	for peerUUID, n := range r.nodes {
		if idle, ok := n.IdleSince(); ok && idle >= r.reaperGrace {
			delete(r.nodes, peerUUID)
			evicted = append(evicted, evictedNode{peerUUID, n})
		}
	}
	for _, e := range evicted {
		if closer, ok := r.nodeLogClosers[e.peerUUID]; ok {
			closer.Close()
			delete(r.nodeLogClosers, e.peerUUID)
		}
	}
	r.mu.Unlock()

	for _, e := range evicted {
		e.node.Stop()
		if nodeLogDir != "" {
			logging.RemoveNodeLog(nodeLogDir, fmt.Sprintf("%x", e.peerUUID))
		}
		r.logger.Info("reaped idle remote node", "peer_uuid", fmt.Sprintf("%x", e.peerUUID))
		if fn != nil {
			fn(e.peerUUID)
		}
	}
}
