package ctrl

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleAttachPropagatesCompilerFailure(t *testing.T) {
	l := NewLifecycleController()
	l.SetCompiler(func(source string) ([]byte, error) {
		return nil, errors.New("syntax error")
	})

	err := l.Attach(context.Background(), 4242)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error")
}

func TestLifecycleAttachRejectsMalformedObject(t *testing.T) {
	l := NewLifecycleController()
	l.SetCompiler(func(source string) ([]byte, error) {
		return []byte("not an ELF object"), nil
	})

	err := l.Attach(context.Background(), 4242)
	require.Error(t, err)
}

func TestLifecycleCloseOnNeverAttachedControllerIsNoOp(t *testing.T) {
	l := NewLifecycleController()
	assert.NoError(t, l.Close())
}
