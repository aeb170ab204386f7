package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesSentinel(t *testing.T) {
	err := Wrap(ErrNotFound, "loading job")
	assert.True(t, Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "loading job")
}

func TestIsNotFoundError(t *testing.T) {
	assert.False(t, IsNotFoundError(nil))
	assert.False(t, IsNotFoundError(New("other")))
	assert.True(t, IsNotFoundError(ErrNotFound))
	assert.True(t, IsNotFoundError(Wrapf(ErrNotFound, "job %s", "abc")))
}

func TestIsCapabilityExceededError(t *testing.T) {
	err := Wrap(ErrCapabilityExceeded, "batch too large")
	assert.True(t, IsCapabilityExceededError(err))
	assert.False(t, IsCapabilityExceededError(ErrInvalidRequest))
}

func TestHintsSurviveWrapping(t *testing.T) {
	err := WithHint(New("refresh rejected"), "reconnect your mail account")
	err = Wrap(err, "token refresh")
	hints := GetAllHints(err)
	require.Len(t, hints, 1)
	assert.Equal(t, "reconnect your mail account", hints[0])
}
