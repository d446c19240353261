package logx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDebugDomainFiltering(t *testing.T) {
	SetDebug(true)
	defer SetDebug(false)

	SetDebugDomains([]string{"planner", "exec"})
	assert.True(t, IsDebugEnabled("planner"))
	assert.True(t, IsDebugEnabled("exec"))
	assert.False(t, IsDebugEnabled("ledger"))

	// Empty list re-enables all components.
	SetDebugDomains(nil)
	assert.True(t, IsDebugEnabled("ledger"))
}

func TestDebugDisabledByDefault(t *testing.T) {
	SetDebug(false)
	SetDebugDomains([]string{"planner"})
	assert.False(t, IsDebugEnabled("planner"))
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("test")
	assert.NotNil(t, logger)
	// Smoke test: none of these should panic.
	logger.Info("info %d", 1)
	logger.Warn("warn")
	logger.Error("error")
	logger.Debug("debug (suppressed)")
}
