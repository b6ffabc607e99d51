package adapters

import (
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ConfigurePahoLogging routes paho's package level loggers through zap.
// DEBUG output is only wired when debug is set since paho is very chatty.
func ConfigurePahoLogging(logger *zap.Logger, debug bool) error {
	logger = logger.Named("paho")

	critical, err := zap.NewStdLogAt(logger, zapcore.ErrorLevel)
	if err != nil {
		return err
	}
	errorLog, err := zap.NewStdLogAt(logger, zapcore.ErrorLevel)
	if err != nil {
		return err
	}
	warn, err := zap.NewStdLogAt(logger, zapcore.WarnLevel)
	if err != nil {
		return err
	}

	mqtt.CRITICAL = critical
	mqtt.ERROR = errorLog
	mqtt.WARN = warn
	mqtt.DEBUG = mqtt.NOOPLogger{}

	if debug {
		debugLog, err := zap.NewStdLogAt(logger, zapcore.DebugLevel)
		if err != nil {
			return err
		}
		mqtt.DEBUG = debugLog
	}
	return nil
}
