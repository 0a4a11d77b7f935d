// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewNodeLoggerEmptyDirIsNoop(t *testing.T) {
	base := slog.New(slog.NewTextHandler(io.Discard, nil))
	logger, closer, path, err := NewNodeLogger(base, "", "peer-1")
	if err != nil {
		t.Fatalf("NewNodeLogger: %v", err)
	}
	if logger != base {
		t.Fatalf("expected the base logger back unmodified when nodeLogDir is empty")
	}
	if path != "" {
		t.Fatalf("expected an empty path, got %q", path)
	}
	closer.Close()
}

func TestNewNodeLoggerWritesToBothHandlers(t *testing.T) {
	dir := t.TempDir()
	var globalBuf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&globalBuf, nil))

	logger, closer, path, err := NewNodeLogger(base, dir, "peer-1")
	if err != nil {
		t.Fatalf("NewNodeLogger: %v", err)
	}
	defer closer.Close()

	logger.Info("hello node", "peer", "peer-1")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading node log file: %v", err)
	}
	if !strings.Contains(string(data), "hello node") {
		t.Errorf("expected node log file to contain the record, got: %s", data)
	}
	if !strings.Contains(globalBuf.String(), "hello node") {
		t.Errorf("expected global log buffer to contain the record, got: %s", globalBuf.String())
	}
}

func TestNewNodeLoggerFileNamedAfterPeerUUID(t *testing.T) {
	dir := t.TempDir()
	base := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, closer, path, err := NewNodeLogger(base, dir, "abc-123")
	if err != nil {
		t.Fatalf("NewNodeLogger: %v", err)
	}
	defer closer.Close()

	want := filepath.Join(dir, "abc-123.log")
	if path != want {
		t.Fatalf("expected log path %q, got %q", want, path)
	}
}

func TestRemoveNodeLogDeletesFile(t *testing.T) {
	dir := t.TempDir()
	base := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, closer, path, err := NewNodeLogger(base, dir, "peer-2")
	if err != nil {
		t.Fatalf("NewNodeLogger: %v", err)
	}
	closer.Close()

	RemoveNodeLog(dir, "peer-2")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected node log file to be removed, stat err: %v", err)
	}
}

func TestRemoveNodeLogEmptyDirIsNoop(t *testing.T) {
	RemoveNodeLog("", "peer-3")
}

func TestNewNodeLoggerReattachLogsAWarningAndKeepsPriorContent(t *testing.T) {
	dir := t.TempDir()
	var globalBuf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&globalBuf, nil))

	logger, closer, path, err := NewNodeLogger(base, dir, "peer-4")
	if err != nil {
		t.Fatalf("NewNodeLogger: %v", err)
	}
	logger.Info("first attach")
	closer.Close()

	globalBuf.Reset()
	logger2, closer2, _, err := NewNodeLogger(base, dir, "peer-4")
	if err != nil {
		t.Fatalf("NewNodeLogger (reattach): %v", err)
	}
	defer closer2.Close()
	logger2.Info("second attach")

	if !strings.Contains(globalBuf.String(), "reattaching") {
		t.Errorf("expected a reattachment warning on the base logger, got: %s", globalBuf.String())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading node log file: %v", err)
	}
	if !strings.Contains(string(data), "first attach") || !strings.Contains(string(data), "second attach") {
		t.Errorf("expected both attach records preserved in the node log file, got: %s", data)
	}
}
