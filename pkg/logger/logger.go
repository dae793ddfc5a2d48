package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger used across the relay. Key/value pairs
// follow the zap SugaredLogger convention.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, err error, keysAndValues ...interface{})
	Errorw(msg string, err error, keysAndValues ...interface{})
	WithValues(keysAndValues ...interface{}) Logger
	WithName(name string) Logger
}

type Config struct {
	JSON   bool   `yaml:"json,omitempty"`
	Level  string `yaml:"level,omitempty"`
	Sample bool   `yaml:"sample,omitempty"`
}

var (
	defaultLock   sync.RWMutex
	defaultLogger Logger = NewZapLogger(zap.NewNop())
)

func GetLogger() Logger {
	defaultLock.RLock()
	defer defaultLock.RUnlock()

	return defaultLogger
}

func SetLogger(l Logger) {
	defaultLock.Lock()
	defer defaultLock.Unlock()

	defaultLogger = l
}

// InitFromConfig replaces the default logger. valid levels: debug, info,
// warn, error, fatal, panic
func InitFromConfig(conf Config, name string) error {
	l, err := NewFromConfig(conf)
	if err != nil {
		return err
	}
	SetLogger(l.WithName(name))
	return nil
}

func NewFromConfig(conf Config) (Logger, error) {
	var config zap.Config
	if conf.JSON {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if !conf.Sample {
		config.Sampling = nil
	}

	if conf.Level != "" {
		lvl := zapcore.Level(0)
		if err := lvl.UnmarshalText([]byte(conf.Level)); err == nil {
			config.Level = zap.NewAtomicLevelAt(lvl)
		}
	}

	l, err := config.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return NewZapLogger(l), nil
}

func Debugw(msg string, keysAndValues ...interface{}) {
	GetLogger().Debugw(msg, keysAndValues...)
}

func Infow(msg string, keysAndValues ...interface{}) {
	GetLogger().Infow(msg, keysAndValues...)
}

func Warnw(msg string, err error, keysAndValues ...interface{}) {
	GetLogger().Warnw(msg, err, keysAndValues...)
}

func Errorw(msg string, err error, keysAndValues ...interface{}) {
	GetLogger().Errorw(msg, err, keysAndValues...)
}
