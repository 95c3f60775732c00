package workflow

import (
	"time"

	"github.com/psworks/scriptflow/log"
)

const (
	defaultMaxToolCycles    = 10
	defaultToolConcurrency  = 4
	defaultToolTimeout      = 30 * time.Second
	defaultReasoningTimeout = 60 * time.Second
)

// Config tunes a Controller. The zero value gets sensible defaults.
type Config struct {
	// MaxToolCycles caps ANALYZE -> TOOLS round trips before synthesis is
	// forced. Default 10.
	MaxToolCycles int

	// ToolConcurrency bounds parallel tool calls per TOOLS step. Default 4.
	ToolConcurrency int

	// ToolTimeout is the per-tool-call execution timeout. Default 30s.
	ToolTimeout time.Duration

	// ReasoningTimeout bounds each reasoning call. Default 60s.
	ReasoningTimeout time.Duration

	Logger log.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxToolCycles <= 0 {
		c.MaxToolCycles = defaultMaxToolCycles
	}
	if c.ToolConcurrency <= 0 {
		c.ToolConcurrency = defaultToolConcurrency
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = defaultToolTimeout
	}
	if c.ReasoningTimeout <= 0 {
		c.ReasoningTimeout = defaultReasoningTimeout
	}
	if c.Logger == nil {
		c.Logger = log.GetDefaultLogger()
	}
	return c
}
