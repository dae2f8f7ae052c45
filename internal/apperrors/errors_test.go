package apperrors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/north-cloud/reader/internal/apperrors"
)

func TestConfigurationError(t *testing.T) {
	t.Parallel()

	err := apperrors.NewConfigurationError("window", "item_extent", "must be > 0, got %v", -1)
	assert.Equal(t, "window: invalid item_extent: must be > 0, got -1", err.Error())

	wrapped := fmt.Errorf("open view: %w", err)
	assert.True(t, apperrors.IsConfigurationError(wrapped))
	assert.False(t, apperrors.IsConfigurationError(errors.New("other")))
}

func TestWrap(t *testing.T) {
	t.Parallel()

	assert.NoError(t, apperrors.Wrap(nil, "ctx"))
	base := errors.New("boom")
	err := apperrors.Wrapf(base, "load %s", "x")
	assert.EqualError(t, err, "load x: boom")
	assert.ErrorIs(t, err, base)
}
