package config_test

import (
	"testing"

	"github.com/FutureUnreal/WhaleWhisper/internal/config"
)

func TestBuildMemorySettings(t *testing.T) {
	cfg := config.Default()
	cfg.Memory.SessionWindow = 7
	s := config.BuildMemorySettings(cfg.Memory)
	if s.SessionWindow != 7 {
		t.Errorf("session window: got %d", s.SessionWindow)
	}
	if s.SummarizerCallTimeout <= 0 {
		t.Error("summarizer call timeout should keep its package default")
	}
	if s.Enabled != cfg.Memory.Enabled {
		t.Error("enabled should carry through")
	}
}
