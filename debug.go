package chatsync

import "github.com/google/uuid"

// DebugConfig gates per-concern debug logging. Disabled by default; enable
// selectively to keep the log readable under polling load.
type DebugConfig struct {
	Enabled      bool
	LogRequests  bool
	LogCache     bool
	LogPolls     bool
	RequestIDGen func() string
}

// DefaultDebugConfig returns a disabled config with every concern flag set,
// so WithDebug alone turns everything on.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:      false,
		LogRequests:  true,
		LogCache:     true,
		LogPolls:     true,
		RequestIDGen: DefaultRequestIDGen,
	}
}

// DefaultRequestIDGen produces a short unique id for correlating log lines.
func DefaultRequestIDGen() string {
	return "req-" + uuid.NewString()[:8]
}

func (d *DebugConfig) on() bool {
	return d != nil && d.Enabled
}
