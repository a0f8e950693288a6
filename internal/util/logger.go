package util

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is stamped on every entry so the call API and the relay can
// share one log index.
const ServiceName = "demo-call-service"

var (
	globalLogger *zap.Logger
	once         sync.Once
)

// Init builds the process logger once. Later calls return the first logger.
func Init(environment, level, format string) *zap.Logger {
	once.Do(func() {
		logger, err := loggerConfig(environment, level, format).Build(
			zap.AddCaller(),
			zap.AddCallerSkip(1),
			zap.Fields(zap.String("service", ServiceName), zap.String("env", environment)),
		)
		if err != nil {
			panic("failed to initialize logger: " + err.Error())
		}
		globalLogger = logger
		zap.ReplaceGlobals(globalLogger)
	})

	return globalLogger
}

func loggerConfig(environment, level, format string) zap.Config {
	cfg := zap.NewDevelopmentConfig()
	if environment == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		// Rejected call attempts repeat one message; sample past the first 50 a second.
		cfg.Sampling = &zap.SamplingConfig{Initial: 50, Thereafter: 200}
		cfg.DisableStacktrace = true
	} else {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLogLevel(level))

	cfg.Encoding = "console"
	if format == "json" {
		cfg.Encoding = "json"
		cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	}
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg
}

func Get() *zap.Logger {
	if globalLogger == nil {
		return Init("production", "info", "json")
	}
	return globalLogger
}

// Named returns a child of the global logger for one component.
func Named(component string) *zap.Logger {
	return Get().WithOptions(zap.AddCallerSkip(-1)).Named(component)
}

func Sync() {
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}

// parseLogLevel accepts zap level names plus "warning". Unknown input is info.
func parseLogLevel(level string) zapcore.Level {
	if level == "warning" {
		return zapcore.WarnLevel
	}
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}

func Debug(msg string, fields ...zap.Field) { Get().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { Get().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { Get().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Get().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { Get().Fatal(msg, fields...) }

// Call-flow fields. Keys are fixed so dashboards can join API and relay logs.

func RequestID(id string) zap.Field { return zap.String("request_id", id) }

// SourceIP is the rate-limit key of a call attempt.
func SourceIP(ip string) zap.Field { return zap.String("client_ip", ip) }

func Backend(kind string) zap.Field { return zap.String("backend", kind) }

func CallSID(sid string) zap.Field { return zap.String("call_sid", sid) }

func SessionID(id string) zap.Field { return zap.String("session_id", id) }

func String(key, value string) zap.Field           { return zap.String(key, value) }
func Strings(key string, value []string) zap.Field { return zap.Strings(key, value) }
func Bool(key string, value bool) zap.Field        { return zap.Bool(key, value) }
func Int(key string, value int) zap.Field          { return zap.Int(key, value) }
func Int64(key string, value int64) zap.Field      { return zap.Int64(key, value) }
func Duration(key string, value time.Duration) zap.Field {
	return zap.Duration(key, value)
}

// ErrorField wraps zap.Error; Error is taken by the level helper.
func ErrorField(err error) zap.Field { return zap.Error(err) }
