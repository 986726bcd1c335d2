package utils

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	t.Run("debug mode returns development logger", func(t *testing.T) {
		logger, err := NewLogger(true)
		if err != nil {
			t.Fatalf("NewLogger(true) error: %v", err)
		}
		if !logger.Core().Enabled(zapcore.DebugLevel) {
			t.Error("debug logger should enable debug level")
		}
		_ = logger.Sync()
	})

	t.Run("production mode returns production logger", func(t *testing.T) {
		logger, err := NewLogger(false)
		if err != nil {
			t.Fatalf("NewLogger(false) error: %v", err)
		}
		if logger.Core().Enabled(zapcore.DebugLevel) {
			t.Error("production logger should not enable debug level")
		}
		_ = logger.Sync()
	})
}

func TestNewLogger_tagsService(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger, err := NewLogger(false, zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("case created", zap.String("case_id", "C-1A2B3C4D"))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.LoggerName != ServiceName {
		t.Errorf("logger name = %q, want %q", e.LoggerName, ServiceName)
	}
	fields := e.ContextMap()
	if fields["service"] != ServiceName || fields["case_id"] != "C-1A2B3C4D" {
		t.Errorf("fields = %v", fields)
	}
}
