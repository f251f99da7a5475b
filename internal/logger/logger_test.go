package logger_test

import (
	"testing"

	"github.com/scrypster/schoolintel/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error"} {
		l, err := logger.New(lvl, "json")
		require.NoError(t, err, lvl)
		want, _ := zapcore.ParseLevel(lvl)
		assert.True(t, l.Core().Enabled(want))
	}
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := logger.New("chatty", "console")
	assert.Error(t, err)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, logger.OrNop(nil))
}
