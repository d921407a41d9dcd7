package logging

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	logger, err := NewLogger("debug", "json", path)
	require.NoError(t, err)
	logger.Info("hello")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

func TestFromContext(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithCorrelationID(ctx, "corr-1")
	ctx = WithUserID(ctx, "user-1")

	FromContext(ctx, base).Info("scoped")

	entries := recorded.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-1", fields[FieldRequestID])
	assert.Equal(t, "corr-1", fields[FieldCorrelationID])
	assert.Equal(t, "user-1", fields[FieldUserID])
}

func TestFromContext_NilBase(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background(), nil))
}

func TestAuditLogger_LogEvent(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	audit := NewAuditLogger(zap.New(core))

	ctx := WithRequestID(context.Background(), "req-42")
	audit.LogKeyGenerated(ctx, "user-1", "pk_abcd...wxyz", AuditOutcomeSuccess, "")

	entries := recorded.All()
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, "Audit event", entry.Message)
	assert.Equal(t, zapcore.InfoLevel, entry.Level)

	fields := entry.ContextMap()
	assert.Equal(t, "audit", fields["log_type"])
	assert.Equal(t, string(AuditEventKeyGenerate), fields[FieldEventType])
	assert.Equal(t, "req-42", fields[FieldRequestID])
	assert.Equal(t, "pk_abcd...wxyz", fields[FieldAPIKey])
}

func TestAuditLogger_FailuresLogAtWarn(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	audit := NewAuditLogger(zap.New(core))

	audit.LogUsageWriteFailure(context.Background(), "user-1", "postcode-search", "success", errors.New("store down"))

	entries := recorded.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, string(AuditEventUsageWriteFailed), fields[FieldEventType])
	assert.Equal(t, "store down", fields[FieldReason])
	assert.Equal(t, "user-1", fields[FieldUserID])
}

func TestAuditLogger_NilReceiverIsSafe(t *testing.T) {
	var audit *AuditLogger
	assert.NotPanics(t, func() {
		audit.LogAuthFailure(context.Background(), "", "missing key", "127.0.0.1", "test")
	})
}
