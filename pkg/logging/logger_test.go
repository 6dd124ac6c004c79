// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLevelString(t *testing.T) {
	cases := map[Level]string{
		LevelDebug: "DEBUG",
		LevelInfo:  "INFO",
		LevelWarn:  "WARN",
		LevelError: "ERROR",
		Level(99):  "UNKNOWN",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", level, got, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFileLogging(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelDebug,
		LogDir:  dir,
		Service: "flow-test",
		Quiet:   true,
	})

	logger.Info("experiment started", "experiment_id", "exp-1")
	logger.Warn("retrying call", "attempt", 2)
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	filename := "flow-test_" + time.Now().Format("2006-01-02") + ".log"
	f, err := os.Open(filepath.Join(dir, filename))
	if err != nil {
		t.Fatalf("expected log file: %v", err)
	}
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("file log line is not JSON: %v", err)
		}
		lines = append(lines, entry)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2", len(lines))
	}
	if lines[0]["msg"] != "experiment started" {
		t.Errorf("msg = %v", lines[0]["msg"])
	}
	if lines[0]["service"] != "flow-test" {
		t.Errorf("service attribute missing: %v", lines[0])
	}
	if lines[1]["attempt"] != float64(2) {
		t.Errorf("attempt attribute missing: %v", lines[1])
	}
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelWarn,
		LogDir:  dir,
		Service: "flow-test",
		Quiet:   true,
	})
	logger.Debug("dropped")
	logger.Info("dropped too")
	logger.Error("kept")
	logger.Close()

	filename := "flow-test_" + time.Now().Format("2006-01-02") + ".log"
	raw, err := os.ReadFile(filepath.Join(dir, filename))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	content := string(raw)
	if strings.Contains(content, "dropped") {
		t.Error("below-threshold messages were written")
	}
	if !strings.Contains(content, "kept") {
		t.Error("error message missing")
	}
}

func TestWithCarriesAttributes(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Service: "flow-test", Quiet: true})
	child := logger.With("request_id", "r-1")
	child.Info("handled")
	logger.Close()

	filename := "flow-test_" + time.Now().Format("2006-01-02") + ".log"
	raw, err := os.ReadFile(filepath.Join(dir, filename))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(raw), `"request_id":"r-1"`) {
		t.Errorf("child attribute missing: %s", raw)
	}
}

func TestCloseIdempotent(t *testing.T) {
	logger := New(Config{LogDir: t.TempDir(), Service: "flow-test", Quiet: true})
	if err := logger.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestDefaultLoggerDoesNotPanic(t *testing.T) {
	logger := Default()
	logger.Info("hello")
	if logger.Slog() == nil {
		t.Fatal("Slog() must expose the underlying logger")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath(~/logs) = %q", got)
	}
	if got := expandPath("/var/log/flow"); got != "/var/log/flow" {
		t.Errorf("absolute path must pass through, got %q", got)
	}
}
