// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// fanOutHandler is a slog.Handler that dispatches each record to two
// handlers. NewNodeLogger uses it to write simultaneously to the global
// handler and to a RemoteNode's dedicated log file.
type fanOutHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h *fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *fanOutHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.primary.Enabled(ctx, r.Level) {
		if err := h.primary.Handle(ctx, r); err != nil {
			return err
		}
	}
	// A write failure on the node's own file must not take down the global log.
	if h.secondary.Enabled(ctx, r.Level) {
		_ = h.secondary.Handle(ctx, r)
	}
	return nil
}

func (h *fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithAttrs(attrs),
		secondary: h.secondary.WithAttrs(attrs),
	}
}

func (h *fanOutHandler) WithGroup(name string) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithGroup(name),
		secondary: h.secondary.WithGroup(name),
	}
}

// NewNodeLogger returns a logger that writes to both baseLogger and a file
// dedicated to one RemoteNode, at:
//
//	{nodeLogDir}/{peerUUID}.log
//
// Unlike a backup session (one file per attempt, always fresh), a
// RemoteNode's identity — and therefore its log file — outlives any single
// connection: spec §4.6 lets a peer's channels come and go freely as long
// as the node itself isn't reaped, and internal/runtime only calls this
// once per peer UUID, when the node is first created, not once per
// physical connection. If the file already exists (the process restarted,
// or the prior instance of this peer was never cleanly reaped), a marker
// record notes the reattachment instead of silently overwriting history.
//
// It returns the combined logger, an io.Closer that must be called (e.g.
// via Stop) when the node is torn down, and the file's path (joined onto
// nodeLogDir, so relative when nodeLogDir is relative). If
// nodeLogDir is empty, it returns baseLogger unmodified (a no-op).
func NewNodeLogger(baseLogger *slog.Logger, nodeLogDir, peerUUID string) (*slog.Logger, io.Closer, string, error) {
	if nodeLogDir == "" {
		return baseLogger, io.NopCloser(nil), "", nil
	}

	if err := os.MkdirAll(nodeLogDir, 0755); err != nil {
		return nil, nil, "", fmt.Errorf("logging: creating node log directory %s: %w", nodeLogDir, err)
	}

	logPath := filepath.Join(nodeLogDir, peerUUID+".log")
	_, statErr := os.Stat(logPath)
	reattached := statErr == nil

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, "", fmt.Errorf("logging: opening node log file %s: %w", logPath, err)
	}

	// The per-node file always captures at DEBUG regardless of the global level.
	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	combined := &fanOutHandler{
		primary:   baseLogger.Handler(),
		secondary: fileHandler,
	}

	logger := slog.New(combined)
	if reattached {
		logger.Warn("logging: remote node log file already existed, reattaching", "peer_uuid", peerUUID, "path", logPath)
	}

	return logger, f, logPath, nil
}

// RemoveNodeLog deletes a reaped node's log file. No-op if nodeLogDir is
// empty or the file doesn't exist.
func RemoveNodeLog(nodeLogDir, peerUUID string) {
	if nodeLogDir == "" {
		return
	}
	os.Remove(filepath.Join(nodeLogDir, peerUUID+".log"))
}
