package config

import "github.com/FutureUnreal/WhaleWhisper/internal/memory"

// BuildMemorySettings converts the gateway's MemoryConfig into the memory
// package's own Settings type, starting from [memory.DefaultSettings] so
// fields this config doesn't expose (SummarizerCallTimeout) keep their
// package default.
func BuildMemorySettings(mc MemoryConfig) memory.Settings {
	s := memory.DefaultSettings()
	s.Enabled = mc.Enabled
	s.DBPath = mc.DBPath
	s.SessionWindow = mc.SessionWindow
	s.FactsMax = mc.FactsMax
	s.SummariesMax = mc.SummariesMax
	s.SummaryMaxChars = mc.SummaryMaxChars
	s.SummaryMinMessages = mc.SummaryMinMessages
	s.SummaryUserLimit = mc.SummaryUserLimit
	s.SummaryAssistantLimit = mc.SummaryAssistantLimit
	return s
}
