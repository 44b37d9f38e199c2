package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"loanflow/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{" warn ", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"info", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
		{"loud", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := parseLevel(tt.in); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestZapAdapter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	a := newZapAdapter(zap.New(core).With(zap.String("op", "op-1")))

	a.Debug("checking slot", "slot", "panFront")
	a.Info("session created", "session", "s-1", "flow", "personal")
	a.Warn("dropping event", "session", "s-1")
	a.Error("upload failed", "error", "boom")

	entries := logs.All()
	if len(entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(entries))
	}

	wantLevels := []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, e := range entries {
		if e.Level != wantLevels[i] {
			t.Errorf("entry %d level = %v, want %v", i, e.Level, wantLevels[i])
		}
		if e.ContextMap()["op"] != "op-1" {
			t.Errorf("entry %d op = %v, want op-1", i, e.ContextMap()["op"])
		}
	}

	fields := entries[1].ContextMap()
	if fields["session"] != "s-1" || fields["flow"] != "personal" {
		t.Errorf("info fields = %v", fields)
	}
	if entries[1].Message != "session created" {
		t.Errorf("message = %q", entries[1].Message)
	}
}

func TestZapAdapter_RespectsLevel(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	a := newZapAdapter(zap.New(core))

	a.Debug("hidden")
	a.Info("hidden")
	a.Warn("shown")

	if logs.Len() != 1 {
		t.Fatalf("got %d entries, want 1", logs.Len())
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("writes to log dir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "log")

		l, err := newLogger(config.LogConfig{Env: "prod", Level: "info", Dir: dir}, "20260101T000000Z")
		if err != nil {
			t.Fatalf("newLogger() error = %v", err)
		}
		l.Info("hello", zap.String("flow", "personal"))
		l.Sync()

		data, err := os.ReadFile(filepath.Join(dir, LogFile))
		if err != nil {
			t.Fatalf("reading log file: %v", err)
		}
		got := string(data)
		for _, want := range []string{`"msg":"hello"`, `"op":"20260101T000000Z"`, `"flow":"personal"`} {
			if !strings.Contains(got, want) {
				t.Errorf("log file missing %s: %q", want, got)
			}
		}
	})

	t.Run("dev without dir", func(t *testing.T) {
		l, err := newLogger(config.LogConfig{Env: "dev", Level: "debug"}, "op")
		if err != nil {
			t.Fatalf("newLogger() error = %v", err)
		}
		if !l.Core().Enabled(zapcore.DebugLevel) {
			t.Error("debug level not enabled")
		}
	})
}
