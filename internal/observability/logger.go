package observability

import (
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func consoleCore(level zapcore.LevelEnabler) zapcore.Core {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.Lock(os.Stdout),
		level,
	)
}

func build(service string, core zapcore.Core) *zap.Logger {
	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service.name", service)),
	)
}

// NewLogger returns the JSON console logger used before telemetry is up.
func NewLogger(service string) *zap.Logger {
	return build(service, consoleCore(zap.InfoLevel))
}

// NewOTelLogger tees the console logger with the OpenTelemetry bridge so
// records are exported through the global logger provider.
func NewOTelLogger(service string) *zap.Logger {
	otelCore := otelzap.NewCore(service+".manual",
		otelzap.WithLoggerProvider(global.GetLoggerProvider()),
	)
	return build(service, zapcore.NewTee(otelCore, consoleCore(zap.InfoLevel)))
}
