package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRunHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.FixedZone("CEST", 2*60*60))

	tests := []struct {
		name    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			level:   slog.LevelInfo,
			message: "backup started",
			want:    "2024-06-15T12:30:45Z\tINFO\trun-1\tbackup started\n",
		},
		{
			name:    "debug level",
			level:   slog.LevelDebug,
			message: "file encrypted",
			want:    "2024-06-15T12:30:45Z\tDEBUG\trun-1\tfile encrypted\n",
		},
		{
			name:    "warn is written as WARNING",
			level:   slog.LevelWarn,
			message: "skipped: source not found",
			attrs:   []slog.Attr{slog.String("path", "/missing")},
			want:    "2024-06-15T12:30:45Z\tWARNING\trun-1\tskipped: source not found\tpath=/missing\n",
		},
		{
			name:    "with record attrs",
			level:   slog.LevelInfo,
			message: "file backed up",
			attrs:   []slog.Attr{slog.String("path", "/docs/file.txt"), slog.String("checksum", "abc123")},
			want:    "2024-06-15T12:30:45Z\tINFO\trun-1\tfile backed up\tpath=/docs/file.txt\tchecksum=abc123\n",
		},
		{
			name:    "multi-line values are quoted",
			level:   slog.LevelInfo,
			message: "notification",
			attrs:   []slog.Attr{slog.String("body", "Archive: /x.zip\nMode: files")},
			want:    "2024-06-15T12:30:45Z\tINFO\trun-1\tnotification\tbody=\"Archive: /x.zip\\nMode: files\"\n",
		},
		{
			name:    "error level",
			level:   slog.LevelError,
			message: "backup failed",
			want:    "2024-06-15T12:30:45Z\tERROR\trun-1\tbackup failed\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := newRunHandler(&buf, "run-1", slog.LevelDebug)

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			for _, a := range tt.attrs {
				r.AddAttrs(a)
			}

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestRunHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := newRunHandler(&buf, "run-1", nil)

	h2 := h.WithAttrs([]slog.Attr{slog.String("session", "backup_1")}).(*runHandler)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := slog.NewRecord(ts, slog.LevelInfo, "archive created", 0)
	r.AddAttrs(slog.String("path", "/x.zip"))

	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "session=backup_1\tpath=/x.zip") {
		t.Errorf("expected pre-set attr before record attr, got: %q", got)
	}
	if len(h.attrs) != 0 {
		t.Errorf("original handler attrs modified: got %d, want 0", len(h.attrs))
	}
}

func TestRunHandler_Enabled(t *testing.T) {
	h := newRunHandler(nil, "", slog.LevelInfo)
	tests := []struct {
		level slog.Level
		want  bool
	}{
		{slog.LevelDebug, false},
		{slog.LevelInfo, true},
		{slog.LevelWarn, true},
		{slog.LevelError, true},
	}
	for _, tt := range tests {
		if got := h.Enabled(context.Background(), tt.level); got != tt.want {
			t.Errorf("Enabled(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dest")
	var console bytes.Buffer

	logger, f, err := newLogger(dir, "run-1", &console, slog.LevelInfo)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}

	logger.Debug("debug detail")
	logger.Info("file backed up", "path", "/a")
	logger.Warn("skipped: unsupported file type", "path", "/dev/null")
	f.Close()

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("log file has %d lines, want 3:\n%s", len(lines), data)
	}
	if !strings.Contains(lines[2], "\tWARNING\trun-1\tskipped: unsupported file type\tpath=/dev/null") {
		t.Errorf("unexpected warning line %q", lines[2])
	}

	if strings.Contains(console.String(), "debug detail") {
		t.Error("debug record reached the console")
	}
	if !strings.Contains(console.String(), "file backed up") {
		t.Error("info record missing from the console")
	}
}

func TestNewLogger_appends(t *testing.T) {
	dir := t.TempDir()
	for _, runID := range []string{"run-1", "run-2"} {
		logger, f, err := newLogger(dir, runID, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		logger.Info("backup complete")
		f.Close()
	}

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "\trun-1\t") || !strings.Contains(string(data), "\trun-2\t") {
		t.Errorf("log was not appended to:\n%s", data)
	}
}
