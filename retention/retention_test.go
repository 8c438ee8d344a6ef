package retention

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWindowRejectsBelowFloor(t *testing.T) {
	w := NewWindow(10)
	w.Advance(100)
	require.NoError(t, w.ValidateDocumentSnapshot(95))
	require.Error(t, w.ValidateDocumentSnapshot(89))
}

func TestWindowAllowsEverythingBeforeFirstAdvance(t *testing.T) {
	w := NewWindow(10)
	require.NoError(t, w.ValidateDocumentSnapshot(0))
	require.NoError(t, w.ValidateIndexSnapshot(5))
}
