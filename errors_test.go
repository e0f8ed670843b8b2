package tscout

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredError(t *testing.T) {
	err := NewError("collector", "Load", ErrCodeLoad, "failed to attach marker")
	assert.Equal(t, "collector", err.Component)
	assert.Equal(t, ErrCodeLoad, err.Code)
	assert.Equal(t, "tscout: failed to attach marker (component=collector)", err.Error())
}

func TestKeyedErrorIncludesKeyInMessage(t *testing.T) {
	err := NewKeyedError("processor", "Write", "ExecSeqScan", ErrCodeQueueFull, "queue saturated")
	assert.Equal(t, "ExecSeqScan", err.Key)
	assert.Contains(t, err.Error(), "component=processor")
}

func TestWrapErrorMapsProcessVanish(t *testing.T) {
	err := WrapError("collector", "Poll", syscall.ESRCH)
	require.NotNil(t, err)
	assert.Equal(t, ErrCodeProcessVanish, err.Code)
	assert.True(t, errors.Is(err, syscall.ESRCH))
}

func TestWrapErrorPreservesStructuredInner(t *testing.T) {
	inner := NewKeyedError("scraper", "Connect", "", ErrCodeScraperConn, "connection refused")
	wrapped := WrapError("supervisor", "StartScraper", inner)
	assert.Equal(t, ErrCodeScraperConn, wrapped.Code)
}

func TestWrapErrorNilIsNil(t *testing.T) {
	assert.Nil(t, WrapError("collector", "Load", nil))
}

func TestIsCode(t *testing.T) {
	err := NewError("supervisor", "Dispatch", ErrCodeUnknownEvent, "unrecognized event type 9")
	assert.True(t, IsCode(err, ErrCodeUnknownEvent))
	assert.False(t, IsCode(err, ErrCodeLostEvent))
	assert.False(t, IsCode(nil, ErrCodeUnknownEvent))
}

func TestFatalCodes(t *testing.T) {
	assert.True(t, ErrCodeUnknownEvent.Fatal())
	assert.True(t, ErrCodeProtocolSkew.Fatal())
	assert.False(t, ErrCodeLoad.Fatal())
	assert.False(t, ErrCodeQueueFull.Fatal())
}

func TestErrnoMapping(t *testing.T) {
	cases := []struct {
		errno    syscall.Errno
		expected ErrorCode
	}{
		{syscall.ESRCH, ErrCodeProcessVanish},
		{syscall.ENOENT, ErrCodeProcessVanish},
		{syscall.EINVAL, ErrCodeInvalidParameters},
		{syscall.EPERM, ErrCodeLoad},
		{syscall.EIO, ErrCodeIOError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expected, mapErrnoToCode(tc.errno))
	}
}
