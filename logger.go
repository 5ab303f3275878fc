package auth

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger wraps a logrus logger, tagging every entry with the
// component name.
func NewLogrusLogger(base *logrus.Logger, name string) Logger {
	if base == nil {
		base = logrus.StandardLogger()
	}
	entry := logrus.NewEntry(base)
	if name != "" {
		entry = entry.WithField("component", name)
	}
	return logrusLogger{entry: entry}
}

func (l logrusLogger) Debug(msg string, args ...any) {
	l.entry.WithFields(toFields(args)).Debug(msg)
}

func (l logrusLogger) Info(msg string, args ...any) {
	l.entry.WithFields(toFields(args)).Info(msg)
}

func (l logrusLogger) Warn(msg string, args ...any) {
	l.entry.WithFields(toFields(args)).Warn(msg)
}

func (l logrusLogger) Error(msg string, args ...any) {
	l.entry.WithFields(toFields(args)).Error(msg)
}

func toFields(args []any) logrus.Fields {
	if len(args) == 0 {
		return nil
	}

	fields := make(logrus.Fields, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if i+1 >= len(args) {
			fields["!BADKEY"] = args[i]
			break
		}
		fields[key] = args[i+1]
	}
	return fields
}

// NewLogrusProvider returns a LoggerProvider backed by the given logrus logger.
func NewLogrusProvider(base *logrus.Logger) LoggerProvider {
	return LoggerProviderFunc(func(name string) Logger {
		return NewLogrusLogger(base, name)
	})
}

func defaultLogger(name string) Logger {
	return NewLogrusLogger(logrus.StandardLogger(), name)
}

type fallbackProvider struct {
	provider LoggerProvider
	logger   Logger
}

func (p fallbackProvider) GetLogger(name string) Logger {
	if p.provider != nil {
		if l := p.provider.GetLogger(name); l != nil {
			return l
		}
	}
	return p.logger
}

// ResolveLogger picks the logger for a named component: the provider's logger
// when it returns one, otherwise the explicit logger, otherwise the default
// logrus logger. The returned provider always yields a usable logger.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if fp, ok := provider.(fallbackProvider); ok {
		provider = fp.provider
	}

	if provider != nil {
		if l := provider.GetLogger(name); l != nil {
			if logger == nil {
				logger = l
			}
			return fallbackProvider{provider: provider, logger: logger}, l
		}
	}

	if logger == nil {
		logger = defaultLogger(name)
	}

	return fallbackProvider{provider: provider, logger: logger}, logger
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NopLogger discards everything.
func NopLogger() Logger {
	return nopLogger{}
}
