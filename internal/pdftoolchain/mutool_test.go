package pdftoolchain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsRecolorUnsupportedUsageMessage(t *testing.T) {
	require.True(t, isRecolorUnsupported(errors.New("usage: mutool <command> [options]")))
}

func TestIsRecolorUnsupportedUnknownCommand(t *testing.T) {
	require.True(t, isRecolorUnsupported(errors.New("mutool: Unknown command 'recolor'")))
}

func TestIsRecolorUnsupportedUnrelatedError(t *testing.T) {
	require.False(t, isRecolorUnsupported(errors.New("permission denied")))
}
