package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeOfWalksChain(t *testing.T) {
	base := errors.New("boom")
	wrapped := fmt.Errorf("outer: %w", Wrap(CodeStore, "save failed", base))

	require.Equal(t, CodeStore, CodeOf(wrapped))
	require.True(t, IsCode(wrapped, CodeStore))
	require.False(t, IsCode(wrapped, CodeInvalidInput))
	require.ErrorIs(t, wrapped, base)
	require.Equal(t, "outer: save failed: boom", wrapped.Error())
}

func TestCodeOfPlainError(t *testing.T) {
	require.Empty(t, CodeOf(errors.New("plain")))
	require.Empty(t, CodeOf(nil))
}
