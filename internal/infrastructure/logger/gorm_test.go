package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func observedSQLLogger(cfg SQLLogConfig) (*SQLLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewSQLLogger(zap.New(core), cfg), logs
}

func stmt(sql string, rows int64) func() (string, int64) {
	return func() (string, int64) { return sql, rows }
}

func TestNewSQLLogger_DefaultsSlowThreshold(t *testing.T) {
	l, _ := observedSQLLogger(SQLLogConfig{Level: gormlogger.Warn})
	assert.Equal(t, DefaultSlowQuery, l.cfg.SlowThreshold)
}

func TestSQLLogger_LogModeCopies(t *testing.T) {
	l, _ := observedSQLLogger(SQLLogConfig{Level: gormlogger.Info})
	quiet, ok := l.LogMode(gormlogger.Error).(*SQLLogger)
	require.True(t, ok)

	assert.Equal(t, gormlogger.Info, l.cfg.Level)
	assert.Equal(t, gormlogger.Error, quiet.cfg.Level)
}

func TestSQLLogger_Printf(t *testing.T) {
	l, logs := observedSQLLogger(SQLLogConfig{Level: gormlogger.Warn})
	ctx, _ := WithRequestID(context.Background(), zap.NewNop(), "req-1")

	l.Info(ctx, "migrated %d tables", 3)
	l.Warn(ctx, "deprecated %s", "column")
	l.Error(ctx, "failed %s", "ping")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "deprecated column", entries[0].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "req-1", entries[1].ContextMap()["request_id"])
}

func TestSQLLogger_Trace(t *testing.T) {
	ctx, _ := WithJobID(context.Background(), zap.NewNop(), "job-42")
	ctx, _ = WithOrderID(ctx, zap.NewNop(), "IL-9")

	t.Run("statement carries correlation ids", func(t *testing.T) {
		l, logs := observedSQLLogger(SQLLogConfig{Level: gormlogger.Info})
		l.Trace(ctx, time.Now(), stmt(`SELECT * FROM "orders"`, 1), nil)

		entries := logs.FilterMessage("sql").All()
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.Equal(t, "job-42", fields["job_id"])
		assert.Equal(t, "IL-9", fields["order_id"])
		assert.Equal(t, int64(1), fields["rows"])
		assert.NotContains(t, fields, "trace_id")
	})

	t.Run("trace id from span context", func(t *testing.T) {
		sc := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID: trace.TraceID{0x0a, 0x01},
			SpanID:  trace.SpanID{0x0b, 0x02},
		})
		spanCtx := trace.ContextWithSpanContext(ctx, sc)

		l, logs := observedSQLLogger(SQLLogConfig{Level: gormlogger.Info})
		l.Trace(spanCtx, time.Now(), stmt("SELECT 1", 1), nil)

		require.Equal(t, 1, logs.Len())
		assert.Equal(t, sc.TraceID().String(), logs.All()[0].ContextMap()["trace_id"])
	})

	t.Run("failures log at error level", func(t *testing.T) {
		l, logs := observedSQLLogger(SQLLogConfig{Level: gormlogger.Error})
		l.Trace(ctx, time.Now(), stmt("UPDATE orders", 0), errors.New("deadlock detected"))

		entries := logs.FilterMessage("sql failed").All()
		require.Len(t, entries, 1)
		assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
		assert.Equal(t, "deadlock detected", entries[0].ContextMap()["error"])
	})

	t.Run("record not found is quiet by default", func(t *testing.T) {
		l, logs := observedSQLLogger(SQLLogConfig{Level: gormlogger.Error})
		l.Trace(ctx, time.Now(), stmt("SELECT", 0), gormlogger.ErrRecordNotFound)
		assert.Zero(t, logs.Len())
	})

	t.Run("record not found can be reported", func(t *testing.T) {
		l, logs := observedSQLLogger(SQLLogConfig{Level: gormlogger.Error, LogNotFound: true})
		l.Trace(ctx, time.Now(), stmt("SELECT", 0), gormlogger.ErrRecordNotFound)
		assert.Equal(t, 1, logs.Len())
	})

	t.Run("slow statements warn", func(t *testing.T) {
		l, logs := observedSQLLogger(SQLLogConfig{Level: gormlogger.Warn, SlowThreshold: 10 * time.Millisecond})
		l.Trace(ctx, time.Now().Add(-time.Second), stmt("SELECT pg_sleep(1)", 1), nil)

		entries := logs.All()
		require.Len(t, entries, 1)
		assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
		assert.Equal(t, "slow sql over 10ms", entries[0].Message)
	})

	t.Run("negative threshold disables slow reporting", func(t *testing.T) {
		l, logs := observedSQLLogger(SQLLogConfig{Level: gormlogger.Warn, SlowThreshold: -1})
		l.Trace(ctx, time.Now().Add(-time.Hour), stmt("SELECT", 1), nil)
		assert.Zero(t, logs.Len())
	})

	t.Run("silent logs nothing", func(t *testing.T) {
		l, logs := observedSQLLogger(SQLLogConfig{Level: gormlogger.Silent})
		l.Trace(ctx, time.Now(), stmt("SELECT", 0), errors.New("boom"))
		assert.Zero(t, logs.Len())
	})
}

func TestParseSQLLogLevel(t *testing.T) {
	cases := map[string]gormlogger.LogLevel{
		"silent":  gormlogger.Silent,
		"off":     gormlogger.Silent,
		"ERROR":   gormlogger.Error,
		"warn":    gormlogger.Warn,
		" info ":  gormlogger.Info,
		"debug":   gormlogger.Info,
		"unknown": gormlogger.Warn,
	}
	for name, want := range cases {
		assert.Equal(t, want, ParseSQLLogLevel(name), name)
	}
}
