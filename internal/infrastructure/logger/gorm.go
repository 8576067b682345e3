package logger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// DefaultSlowQuery is the statement duration reported as slow when no
// threshold is configured.
const DefaultSlowQuery = 200 * time.Millisecond

// SQLLogConfig controls which statements SQLLogger reports.
type SQLLogConfig struct {
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
	// LogNotFound reports gorm.ErrRecordNotFound as an error. Lookups for
	// orders that were never ingested are routine, so it is off by default.
	LogNotFound bool
}

// SQLLogger implements gormlogger.Interface on top of zap. Statement entries
// carry the trace, request, job and order ids found in the query context.
type SQLLogger struct {
	zl  *zap.Logger
	cfg SQLLogConfig
}

var _ gormlogger.Interface = (*SQLLogger)(nil)

// NewSQLLogger builds a SQLLogger; a zero SlowThreshold means DefaultSlowQuery.
// Pass a negative threshold to disable slow statement reporting.
func NewSQLLogger(zl *zap.Logger, cfg SQLLogConfig) *SQLLogger {
	if cfg.SlowThreshold == 0 {
		cfg.SlowThreshold = DefaultSlowQuery
	}
	return &SQLLogger{zl: zl, cfg: cfg}
}

func (s *SQLLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cfg := s.cfg
	cfg.Level = level
	return &SQLLogger{zl: s.zl, cfg: cfg}
}

func (s *SQLLogger) Info(ctx context.Context, format string, args ...any) {
	s.printf(ctx, gormlogger.Info, zapcore.InfoLevel, format, args)
}

func (s *SQLLogger) Warn(ctx context.Context, format string, args ...any) {
	s.printf(ctx, gormlogger.Warn, zapcore.WarnLevel, format, args)
}

func (s *SQLLogger) Error(ctx context.Context, format string, args ...any) {
	s.printf(ctx, gormlogger.Error, zapcore.ErrorLevel, format, args)
}

func (s *SQLLogger) printf(ctx context.Context, min gormlogger.LogLevel, lvl zapcore.Level, format string, args []any) {
	if s.cfg.Level < min {
		return
	}
	if ce := s.zl.Check(lvl, fmt.Sprintf(format, args...)); ce != nil {
		ce.Write(queryContextFields(ctx)...)
	}
}

// Trace reports a finished statement. Failures win over slowness, and plain
// statements are only written at gormlogger.Info.
func (s *SQLLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	lvl, msg, ok := s.classify(time.Since(begin), err)
	if !ok {
		return
	}
	ce := s.zl.Check(lvl, msg)
	if ce == nil {
		return
	}

	query, rows := fc()
	fields := append(queryContextFields(ctx),
		zap.String("sql", query),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", time.Since(begin)),
	)
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	ce.Write(fields...)
}

func (s *SQLLogger) classify(elapsed time.Duration, err error) (zapcore.Level, string, bool) {
	switch {
	case s.cfg.Level <= gormlogger.Silent:
		return 0, "", false
	case err != nil:
		if errors.Is(err, gormlogger.ErrRecordNotFound) && !s.cfg.LogNotFound {
			return 0, "", false
		}
		return zapcore.ErrorLevel, "sql failed", s.cfg.Level >= gormlogger.Error
	case s.cfg.SlowThreshold > 0 && elapsed > s.cfg.SlowThreshold:
		return zapcore.WarnLevel, "slow sql over " + s.cfg.SlowThreshold.String(), s.cfg.Level >= gormlogger.Warn
	default:
		return zapcore.DebugLevel, "sql", s.cfg.Level >= gormlogger.Info
	}
}

// ParseSQLLogLevel maps an application log level name onto GORM's levels.
// debug and info both enable statement logging; unknown names fall back to warn.
func ParseSQLLogLevel(name string) gormlogger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "silent", "off":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "debug", "info":
		return gormlogger.Info
	}
	return gormlogger.Warn
}

func queryContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 5)
	if id := GetTraceID(ctx); id != "" {
		fields = append(fields, zap.String("trace_id", id))
	}
	for _, key := range []contextKey{requestIDKey, jobIDKey, orderIDKey} {
		if v := stringValue(ctx, key); v != "" {
			fields = append(fields, zap.String(string(key), v))
		}
	}
	return fields
}
