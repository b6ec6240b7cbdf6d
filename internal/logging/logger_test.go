package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fyrsmithlabs/costgate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, logger.Underlying())
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	require.Error(t, err)

	cfg = NewDefaultConfig()
	cfg.Output.Stdout = false
	_, err = NewLogger(cfg, nil)
	require.Error(t, err)
}

func TestFromObservability(t *testing.T) {
	cfg, err := FromObservability(config.ObservabilityConfig{
		LogLevel:    "trace",
		LogFormat:   "console",
		ServiceName: "gate-test",
	})
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, "gate-test", cfg.Fields["service"])

	_, err = FromObservability(config.ObservabilityConfig{LogLevel: "loud"})
	require.Error(t, err)

	// Telemetry exports traces and metrics only; logs stay on stdout.
	cfg, err = FromObservability(config.ObservabilityConfig{LogLevel: "info", EnableTelemetry: true})
	require.NoError(t, err)
	assert.False(t, cfg.Output.OTEL)
	assert.True(t, cfg.Output.Stdout)
}

func TestNewLogger_OTELOutputNeedsProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.OTEL = true

	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without a log provider")
}

func TestNewLogger_OTELOnly(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.Stdout = false
	cfg.Output.OTEL = true

	logger, err := NewLogger(cfg, noop.NewLoggerProvider())
	require.NoError(t, err)
	logger.Info(context.Background(), "bridged")
	require.NoError(t, logger.Sync())
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithConversationID(context.Background(), "conv-1")
	ctx = WithUserID(ctx, "user-7")
	ctx = WithRequestID(ctx, "req-9")

	tl.Info(ctx, "turn handled", zap.Bool("search_executed", true))

	tl.AssertLogged(t, zapcore.InfoLevel, "turn handled")
	tl.AssertField(t, "turn handled", "conversation.id", "conv-1")
	tl.AssertField(t, "turn handled", "user.id", "user-7")
	tl.AssertField(t, "turn handled", "request.id", "req-9")
	tl.AssertField(t, "turn handled", "search_executed", true)
}

func TestLogger_TraceCorrelation(t *testing.T) {
	tl := NewTestLogger()

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	tl.Warn(ctx, "slow upstream")
	tl.AssertField(t, "slow upstream", "trace_id", "4bf92f3577b34da6a3ce929d0e0e4736")
}

func TestLogger_Levels(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	tl.Trace(ctx, "t")
	tl.Debug(ctx, "d")
	tl.Info(ctx, "i")
	tl.Warn(ctx, "w")
	tl.Error(ctx, "e")

	entries := tl.All()
	require.Len(t, entries, 5)
	assert.Equal(t, TraceLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[4].Level)

	tl.Reset()
	assert.Empty(t, tl.All())
}

func TestLogger_WithAndNamed(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Named("decision").With(zap.String("tier", "keyword"))
	child.Info(context.Background(), "decided")

	entries := tl.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "decision", entries[0].LoggerName)
	assert.Equal(t, "keyword", entries[0].ContextMap()["tier"])
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	assert.Same(t, tl.Logger, FromContext(ctx))
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl)

	lvl, err = LevelFromString("TRACE")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)
}

func encodeWith(t *testing.T, enc zapcore.Encoder, msg string, fields ...zap.Field) map[string]interface{} {
	t.Helper()
	buf, err := enc.EncodeEntry(zapcore.Entry{Message: msg, Time: time.Unix(0, 0)}, fields)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &out))
	return out
}

func TestRedactingEncoder(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	out := encodeWith(t, enc, "calling upstream with Bearer abc.def",
		zap.String("api_key", "sk-ant-abcdefghijkl"),
		zap.String("note", "key is sk-ant-abcdefghijkl"),
		zap.Int("attempt", 2),
	)

	assert.Equal(t, "[REDACTED]", out["api_key"])
	assert.Equal(t, "key is [REDACTED]", out["note"])
	assert.EqualValues(t, 2, out["attempt"])
	assert.NotContains(t, out["msg"], "abc.def")
}

func TestRedactingEncoder_WithFields(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	clone := enc.Clone()
	clone.AddString("authorization", "Bearer xyz")
	out := encodeWith(t, clone, "hello")
	assert.Equal(t, "[REDACTED]", out["authorization"])
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{})
	require.NoError(t, err)
	out := encodeWith(t, enc, "plain", zap.String("api_key", "visible"))
	assert.Equal(t, "visible", out["api_key"])
}

func TestRedactingEncoder_BadPattern(t *testing.T) {
	_, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{Enabled: true, Patterns: []string{"("}})
	require.Error(t, err)
}

func TestSecretField(t *testing.T) {
	f := Secret("llm_key", config.Secret("sk-123"))
	assert.Equal(t, "[REDACTED:6]", f.String)
}

func TestSampledCore_ErrorsNeverSampled(t *testing.T) {
	tl := NewTestLogger()
	sampled := newSampledCore(tl.Underlying().Core(), SamplingConfig{
		Enabled:    true,
		Tick:       config.Duration(time.Minute),
		Initial:    1,
		Thereafter: 0,
	})
	logger := &Logger{zap: zap.New(sampled), config: NewDefaultConfig()}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		logger.Info(ctx, "repeated info")
		logger.Error(ctx, "repeated error")
	}

	assert.Equal(t, 1, tl.FilterMessage("repeated info").Len())
	assert.Equal(t, 5, tl.FilterMessage("repeated error").Len())
}
