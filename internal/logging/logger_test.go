package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerDefaultConfig(t *testing.T) {
	logger := NewLogger(nil)
	require.NotNil(t, logger)
	assert.Equal(t, LevelInfo, logger.level)
}

func TestNewLoggerRespectsLevel(t *testing.T) {
	logger := NewLogger(&Config{Level: LevelDebug})
	require.NotNil(t, logger)
	assert.Equal(t, LevelDebug, logger.level)
}

func TestDefaultIsASingleton(t *testing.T) {
	a := Default()
	b := Default()
	assert.Same(t, a, b)
}

func TestSetDefaultReplacesSingleton(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	replacement := NewLogger(&Config{Level: LevelError})
	SetDefault(replacement)
	assert.Same(t, replacement, Default())
}

func TestWithReturnsChildLoggerWithoutMutatingParent(t *testing.T) {
	parent := NewLogger(&Config{Level: LevelInfo})
	child := parent.With("pid", 4242)

	require.NotNil(t, child)
	assert.NotSame(t, parent, child)
	assert.Equal(t, parent.level, child.level)
}

func TestLoggingMethodsDoNotPanic(t *testing.T) {
	logger := NewLogger(&Config{Level: LevelDebug})
	assert.NotPanics(t, func() {
		logger.Debug("debug message", "k", "v")
		logger.Info("info message", "k", "v")
		logger.Warn("warn message", "k", "v")
		logger.Error("error message", "k", "v")
		logger.Debugf("formatted %d", 1)
		logger.Printf("printf %s", "compat")
		_ = logger.Sync()
	})
}
