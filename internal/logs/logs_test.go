package logs_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/iliyamo/auth-service/internal/logs"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, zapcore.DebugLevel, logs.ParseLevel(" DEBUG "))
	require.Equal(t, zapcore.WarnLevel, logs.ParseLevel("warning"))
	require.Equal(t, zapcore.ErrorLevel, logs.ParseLevel("error"))
	require.Equal(t, zapcore.InfoLevel, logs.ParseLevel("verbose"))
}

func TestInitOnce(t *testing.T) {
	logs.Init(logs.Options{Env: "dev", Level: "debug", Service: "test"})
	first := logs.L()
	logs.Init(logs.Options{Env: "prod", Level: "error"})
	require.Same(t, first, logs.L())
	require.NotNil(t, logs.Named("x"))
}
