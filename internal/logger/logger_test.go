package logger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/jonesrussell/north-cloud/reader/internal/logger"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, logger.ParseLevel(in), in)
	}
}

func TestNew_WritesToStderr(t *testing.T) {
	t.Parallel()

	log, err := logger.New(logger.Config{Level: "debug", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)
	log.With(logger.Component("test")).Debug("hello", logger.Int("n", 1))
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	nop := logger.NewNop()
	ctx := logger.WithContext(context.Background(), nop)
	assert.Equal(t, nop, logger.FromContext(ctx))

	assert.NotNil(t, logger.FromContext(context.Background()))
}

func TestOrNop(t *testing.T) {
	t.Parallel()

	assert.NotNil(t, logger.OrNop(nil))
	l := logger.NewTest(t)
	assert.Equal(t, l, logger.OrNop(l))
}
