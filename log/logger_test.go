package log

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { _ = SetLevel("info") })

	if err := SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel(debug) error = %v", err)
	}
	if !GetInstance().Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug not enabled after SetLevel(debug)")
	}

	if err := SetLevel("warn"); err != nil {
		t.Fatalf("SetLevel(warn) error = %v", err)
	}
	if GetInstance().Core().Enabled(zapcore.InfoLevel) {
		t.Error("info enabled after SetLevel(warn)")
	}

	if err := SetLevel("loud"); err == nil {
		t.Error("SetLevel(loud) error = nil")
	}
}

func TestGetInstance_Singleton(t *testing.T) {
	if GetInstance() != GetInstance() {
		t.Error("GetInstance returned different loggers")
	}
}
