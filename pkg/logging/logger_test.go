package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		" error ": zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_FileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")

	logger, err := New(ComponentRegistry, Options{Level: "info", Format: "json", OutputFile: path})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.ComponentDebug(ComponentRegistry, "hidden")
	logger.ComponentInfo(ComponentRegistry, "feed attached", zap.String("feed", "u1/pipelines"))
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close must be a no-op, got %v", err)
	}
	if logger.file != nil {
		t.Error("Close must release the log file")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") {
		t.Error("debug line must be filtered at info level")
	}
	for _, want := range []string{"[REGISTRY] feed attached", `"feed":"u1/pipelines"`, `"component":"REGISTRY"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected log to contain %s, got %s", want, out)
		}
	}
}

func TestTag(t *testing.T) {
	plain := &ColoredLogger{Logger: zap.NewNop()}
	if got := plain.tag(ComponentFeed, "hello"); got != "[FEED] hello" {
		t.Errorf("unexpected tag %q", got)
	}

	colored := &ColoredLogger{Logger: zap.NewNop(), enableColors: true}
	got := colored.tag(ComponentGateway, "hello")
	if !strings.HasPrefix(got, BrightGreen) || !strings.HasSuffix(got, "hello") {
		t.Errorf("unexpected colored tag %q", got)
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) must return a usable logger")
	}
	l := NewNop()
	if OrNop(l) != l {
		t.Error("OrNop must return the given logger")
	}
}

func TestWith(t *testing.T) {
	l := NewNop().With(zap.String("conn_id", "c1"))
	if l == nil || l.Logger == nil {
		t.Fatal("With returned nil logger")
	}
	l.ComponentInfo(ComponentGateway, "ok")
}
