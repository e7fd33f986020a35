package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitializeConsole(t *testing.T) {
	require.NoError(t, Initialize(false))
	assert.False(t, JSONOutput)
	assert.NotNil(t, Logger)
}

func TestInitializeJSON(t *testing.T) {
	require.NoError(t, InitializeWithLevel(true, zapcore.WarnLevel))
	assert.True(t, JSONOutput)
	t.Cleanup(func() { Logger = zap.NewNop().Sugar() })
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(0))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(1))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(2))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(7))
}

func TestFieldsFromContext(t *testing.T) {
	ctx := WithJobID(context.Background(), "job-123")
	ctx = WithVideo(ctx, "traffic.mp4")

	fields := FieldsFromContext(ctx)
	assert.Equal(t, []interface{}{FieldJobID, "job-123", FieldVideo, "traffic.mp4"}, fields)

	assert.Empty(t, FieldsFromContext(context.Background()))
}

func TestAbbreviateName(t *testing.T) {
	assert.Equal(t, "pipeline", abbreviateName("pipeline"))
	assert.Equal(t, "p.worker", abbreviateName("pulse.worker"))
}

func TestMinimalEncoderPlain(t *testing.T) {
	SetTheme("none")
	t.Cleanup(func() { SetTheme("everforest") })

	enc := newMinimalEncoder()
	ent := zapcore.Entry{
		Level:      zapcore.WarnLevel,
		Time:       time.Date(2026, 1, 2, 13, 4, 35, 0, time.UTC),
		LoggerName: "pulse.worker",
		Message:    "Stage failed",
	}
	buf, err := enc.EncodeEntry(ent, []zapcore.Field{
		zap.String(FieldVideo, "traffic.mp4"),
		zap.String(FieldStage, "annotating"),
		zap.Int64(FieldDurationMS, 1532),
		zap.Error(errors.New("boom")),
		zap.String("ignored", "x"),
	})
	require.NoError(t, err)

	assert.Equal(t, "13:04:35  WARN  p.worker  Stage failed  traffic.mp4 [annotating] 1532ms boom\n", buf.String())
}

func TestIsProductionEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("LOG_LEVEL", "")
	assert.False(t, IsProductionEnvironment())

	t.Setenv("ENVIRONMENT", "Prod")
	assert.True(t, IsProductionEnvironment())

	t.Setenv("ENVIRONMENT", "staging")
	t.Setenv("LOG_LEVEL", "warn")
	assert.True(t, IsProductionEnvironment())
}

func TestNamed(t *testing.T) {
	require.NoError(t, InitializeWithLevel(false, zapcore.DebugLevel))
	t.Cleanup(func() { Logger = zap.NewNop().Sugar() })

	assert.Equal(t, "pipeline", Named("pipeline").Desugar().Name())
}
