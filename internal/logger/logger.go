// Package logger provides the structured logging used throughout this
// kernel simulator, mirroring gcsfuse's internal/logger: a package-level
// slog.Logger backed by a swappable handler (text or JSON), with
// severity-named helpers and lumberjack-based file rotation.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mlj-hub/pintosim/cfg"
)

// Severity names accepted by cfg.LoggingConfig.Severity and BindFlags'
// --log-severity flag.
const (
	TRACE   = "TRACE"
	DEBUG   = "DEBUG"
	INFO    = "INFO"
	WARNING = "WARNING"
	ERROR   = "ERROR"
	OFF     = "OFF"
)

// Custom slog levels, spaced the way slog's own Debug/Info/Warn/Error are
// so TRACE sits below Debug and OFF sits above Error.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.Level(-4)
	LevelInfo  = slog.Level(0)
	LevelWarn  = slog.Level(4)
	LevelError = slog.Level(8)
	LevelOff   = slog.Level(12)
)

var levelNames = map[slog.Leveler]string{
	LevelTrace: TRACE,
	LevelWarn:  WARNING,
	LevelOff:   OFF,
}

// loggerFactory builds slog handlers writing to either a rotated log file
// or stderr, in the configured format.
type loggerFactory struct {
	file            *os.File
	sysWriter       io.Writer
	level           string
	format          string
	logRotateConfig cfg.LogRotateConfig
}

var defaultLoggerFactory = &loggerFactory{
	level:           INFO,
	format:          "text",
	sysWriter:       os.Stderr,
	logRotateConfig: cfg.LogRotateConfig{MaxFileSizeMB: 100, BackupFileCount: 3},
}

var defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, toLevelVar(INFO), ""))

func toLevelVar(severity string) *slog.LevelVar {
	v := new(slog.LevelVar)
	setLoggingLevel(severity, v)
	return v
}

// setLoggingLevel maps a severity name onto a slog.LevelVar.
func setLoggingLevel(level string, programLevel *slog.LevelVar) {
	switch level {
	case TRACE:
		programLevel.Set(LevelTrace)
	case DEBUG:
		programLevel.Set(LevelDebug)
	case INFO:
		programLevel.Set(LevelInfo)
	case WARNING:
		programLevel.Set(LevelWarn)
	case ERROR:
		programLevel.Set(LevelError)
	case OFF:
		programLevel.Set(LevelOff)
	default:
		programLevel.Set(LevelInfo)
	}
}

// replaceLevelAttr renames slog's "level" attribute to "severity" and maps
// custom levels back onto their names, the way gcsfuse's handler does.
func replaceLevelAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level := a.Value.Any().(slog.Level)
		if name, ok := levelNames[level]; ok {
			a.Value = slog.StringValue(name)
		} else {
			a.Value = slog.StringValue(level.String())
		}
		a.Key = "severity"
	}
	return a
}

func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, programLevel *slog.LevelVar, prefix string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       programLevel,
		ReplaceAttr: replaceLevelAttr,
	}
	if prefix != "" {
		w = &prefixWriter{prefix: prefix, w: w}
	}
	if f.format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return &textHandler{inner: slog.NewTextHandler(w, opts), w: w}
}

// prefixWriter prepends a fixed prefix to every write, used by tests to tag
// log lines with a marker string.
type prefixWriter struct {
	prefix string
	w      io.Writer
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write([]byte(p.prefix))
	if err != nil {
		return n, err
	}
	m, err := p.w.Write(b)
	return n + m, err
}

// textHandler renders log records in the `time=... severity=... msg="..."`
// shape gcsfuse's text logs use, with a "dd/mm/yyyy hh:mm:ss.micro"
// timestamp instead of slog's RFC 3339 one. Only the time, severity and
// message of a record are rendered; other attributes are not.
type textHandler struct {
	inner *slog.TextHandler
	w     io.Writer
}

func (h *textHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *textHandler) Handle(ctx context.Context, r slog.Record) error {
	severity := r.Level.String()
	if name, ok := levelNames[r.Level]; ok {
		severity = name
	}
	_, err := fmt.Fprintf(h.w, "time=%s severity=%s msg=%q\n", r.Time.Format("02/01/2006 15:04:05.000000"), severity, r.Message)
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &textHandler{inner: h.inner.WithAttrs(attrs).(*slog.TextHandler), w: h.w}
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	return &textHandler{inner: h.inner.WithGroup(name).(*slog.TextHandler), w: h.w}
}

// SetLogFormat changes the output format ("text" or "json", defaulting to
// text for anything else) of the default logger, rebuilding its handler
// in place.
func SetLogFormat(format string) {
	defaultLoggerFactory.format = format
	w := defaultLoggerFactory.sysWriter
	if defaultLoggerFactory.file != nil {
		w = defaultLoggerFactory.file
	}
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, toLevelVar(defaultLoggerFactory.level), ""))
}

// InitLogFile points the default logger at a rotated log file, per
// cfg.LoggingConfig.FilePath / cfg.LoggingConfig.Rotate, using
// gopkg.in/natefinch/lumberjack.v2 for rotation the way cmd/root.go does
// for gcsfuse.
func InitLogFile(logConfig cfg.LoggingConfig) error {
	defaultLoggerFactory.level = logConfig.Severity
	defaultLoggerFactory.format = logConfig.Format
	defaultLoggerFactory.logRotateConfig = logConfig.Rotate

	if logConfig.FilePath == "" {
		defaultLoggerFactory.file = nil
		defaultLoggerFactory.sysWriter = os.Stderr
		defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, toLevelVar(logConfig.Severity), ""))
		return nil
	}

	lj := &lumberjack.Logger{
		Filename:   logConfig.FilePath,
		MaxSize:    logConfig.Rotate.MaxFileSizeMB,
		MaxBackups: logConfig.Rotate.BackupFileCount,
		Compress:   logConfig.Rotate.Compress,
	}
	f, err := os.OpenFile(logConfig.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defaultLoggerFactory.file = f
	defaultLoggerFactory.sysWriter = nil
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(lj, toLevelVar(logConfig.Severity), ""))
	return nil
}

func Tracef(format string, args ...any) { defaultLogger.Log(context.Background(), LevelTrace, fmt.Sprintf(format, args...)) }
func Debugf(format string, args ...any) { defaultLogger.Debug(fmt.Sprintf(format, args...)) }
func Infof(format string, args ...any)  { defaultLogger.Info(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...any)  { defaultLogger.Warn(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...any) { defaultLogger.Error(fmt.Sprintf(format, args...)) }
