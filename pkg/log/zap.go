package log

import (
	"os"
	"path/filepath"
	"slices"
	"time"

	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ Logger = &ZapLogger{}

// Config selects the encoder, level and destination of a ZapLogger.
type Config struct {
	Format string `env:"LOG_FORMAT" env-default:"console"` // console, logfmt or json
	Level  Level  `env:"LOG_LEVEL" env-default:"info"`
	Output string `env:"LOG_OUTPUT" env-default:"stderr"` // stderr, stdout or a file path
}

// ZapLogger is the production Logger, backed by a zap SugaredLogger.
type ZapLogger struct {
	lg            *zap.SugaredLogger
	keysAndValues []any
}

// NewZapLogger builds a logger from conf. Extra write syncers receive a copy of every entry.
func NewZapLogger(conf Config, extraWriters ...zapcore.WriteSyncer) Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = func(ts time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(ts.UTC().Format(time.RFC3339))
	}

	var encoder zapcore.Encoder
	switch conf.Format {
	case "logfmt":
		encoder = zaplogfmt.NewEncoder(encCfg)
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	ws := openOutput(conf.Output)
	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(append(extraWriters, ws)...), toZapLevel(conf.Level))

	// Two frames: the exported level method and ZapLogger.log.
	zl := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)).Sugar()
	return &ZapLogger{lg: zl}
}

func openOutput(output string) zapcore.WriteSyncer {
	switch output {
	case "", "stderr":
		return zapcore.Lock(os.Stderr)
	case "stdout":
		return zapcore.Lock(os.Stdout)
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return zapcore.Lock(os.Stderr)
	}
	file, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return zapcore.Lock(os.Stderr)
	}
	return zapcore.AddSync(file)
}

func (l *ZapLogger) Debug(msg string, kv ...any) { l.log(zapcore.DebugLevel, msg, kv) }
func (l *ZapLogger) Info(msg string, kv ...any)  { l.log(zapcore.InfoLevel, msg, kv) }
func (l *ZapLogger) Warn(msg string, kv ...any)  { l.log(zapcore.WarnLevel, msg, kv) }
func (l *ZapLogger) Error(msg string, kv ...any) { l.log(zapcore.ErrorLevel, msg, kv) }
func (l *ZapLogger) Fatal(msg string, kv ...any) { l.log(zapcore.FatalLevel, msg, kv) }

func (l *ZapLogger) log(level zapcore.Level, msg string, kv []any) {
	l.lg.Logw(level, msg, kv...)
}

// derive returns a logger sharing l's pairs, built on lg.
func (l *ZapLogger) derive(lg *zap.SugaredLogger, keysAndValues ...any) *ZapLogger {
	return &ZapLogger{
		lg:            lg,
		keysAndValues: append(slices.Clip(l.keysAndValues), keysAndValues...),
	}
}

// WithKV returns a child logger carrying the pair.
func (l *ZapLogger) WithKV(key string, value any) Logger {
	return l.derive(l.lg.With(key, value), key, value)
}

func (l *ZapLogger) GetAllKV() []any {
	return l.keysAndValues
}

// WithName appends name to the logger hierarchy, dot separated.
func (l *ZapLogger) WithName(name string) Logger {
	return l.derive(l.lg.Named(name))
}

func (l *ZapLogger) Name() string {
	return l.lg.Desugar().Name()
}

func (l *ZapLogger) AddCallerSkip(skip int) Logger {
	return l.derive(l.lg.WithOptions(zap.AddCallerSkip(skip)))
}

func toZapLevel(level Level) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	case LevelFatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
