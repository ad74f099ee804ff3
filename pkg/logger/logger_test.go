package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	for _, env := range []string{"local", "production"} {
		log, err := New("oddysseyd", env)
		if err != nil {
			t.Fatalf("New(%q) error = %v", env, err)
		}
		log.Info("ready")
	}
}

func TestWithLevel(t *testing.T) {
	log, err := WithLevel("oddysseyd", "production", "warn")
	if err != nil {
		t.Fatal(err)
	}
	if log.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug should be disabled at warn level")
	}
	if _, err := WithLevel("oddysseyd", "production", "loud"); err != nil {
		t.Errorf("bad level should fall back, got %v", err)
	}
}
