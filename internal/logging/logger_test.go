// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_JSONFormat(t *testing.T) {
	logger, closer := NewLogger("info", "json", "", "")
	defer closer.Close()
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewLogger_TextFormat(t *testing.T) {
	logger, closer := NewLogger("debug", "text", "", "")
	defer closer.Close()
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewLogger_DefaultFormat(t *testing.T) {
	// Unknown format should fall back to the default (JSON)
	logger, closer := NewLogger("info", "unknown", "", "")
	defer closer.Close()
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewLogger_AllLevels(t *testing.T) {
	levels := []string{"debug", "info", "warn", "warning", "error", "unknown"}
	for _, level := range levels {
		logger, closer := NewLogger(level, "json", "", "")
		defer closer.Close()
		if logger == nil {
			t.Errorf("expected non-nil logger for level %q", level)
		}
	}
}

func TestNewLogger_WithFileOutput(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "test.log")

	logger, closer := NewLogger("info", "json", logFile, "")
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}

	// Write something to the log
	logger.Info("test message", "key", "value")

	// Close to flush
	closer.Close()

	// Verify the file was created and contains data
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}

	content := string(data)
	if !strings.Contains(content, "test message") {
		t.Errorf("expected log file to contain 'test message', got: %s", content)
	}
	if !strings.Contains(content, "key") {
		t.Errorf("expected log file to contain 'key', got: %s", content)
	}
}

func TestNewLogger_WithFileOutput_InvalidPath(t *testing.T) {
	// Invalid path: should warn on stderr and still return a working logger
	logger, closer := NewLogger("info", "json", "/nonexistent/dir/test.log", "")
	defer closer.Close()

	if logger == nil {
		t.Fatal("expected non-nil logger even with invalid file path")
	}

	// Logger should still work (stdout only)
	logger.Info("still works")
}

func TestNewLogger_ComponentAttributeTagsEveryRecord(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "component.log")

	logger, closer := NewLogger("info", "json", logFile, "dialer")
	logger.Info("connected")
	closer.Close()

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		t.Fatalf("unmarshaling log record: %v", err)
	}
	if record["component"] != "dialer" {
		t.Fatalf("expected component=dialer on the record, got %v", record["component"])
	}
}

func TestNewLogger_DebugLevelAddsSource(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "debug.log")

	logger, closer := NewLogger("debug", "json", logFile, "fibre-peer")
	defer closer.Close()
	logger.Debug("probing source capture")

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "\"source\"") {
		t.Errorf("expected a source attribute at debug level, got: %s", data)
	}
	if !strings.Contains(string(data), "\"component\":\"fibre-peer\"") {
		t.Errorf("expected component=fibre-peer on the record, got: %s", data)
	}
}
