/*
 * Copyright 2024 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package types

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the logging contract used by every component.
type Logger interface {
	Printf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

// FieldLogger is implemented by loggers that can carry structured fields.
type FieldLogger interface {
	Logger
	With(key string, value interface{}) Logger
}

var _ FieldLogger = (*ZeroLogger)(nil)

// ZeroLogger adapts a zerolog.Logger to Logger.
type ZeroLogger struct {
	zl zerolog.Logger
}

// NewZeroLogger wraps an existing zerolog logger.
func NewZeroLogger(zl zerolog.Logger) *ZeroLogger {
	return &ZeroLogger{zl: zl}
}

// Zerolog returns the underlying logger.
func (l *ZeroLogger) Zerolog() zerolog.Logger {
	return l.zl
}

// Printf logs at info level, matching the behaviour of log.Logger based callers.
func (l *ZeroLogger) Printf(format string, v ...interface{}) {
	l.zl.Info().Msg(fmt.Sprintf(format, v...))
}

func (l *ZeroLogger) Debugf(format string, v ...interface{}) {
	l.zl.Debug().Msgf(format, v...)
}

func (l *ZeroLogger) Infof(format string, v ...interface{}) {
	l.zl.Info().Msgf(format, v...)
}

func (l *ZeroLogger) Warnf(format string, v ...interface{}) {
	l.zl.Warn().Msgf(format, v...)
}

func (l *ZeroLogger) Errorf(format string, v ...interface{}) {
	l.zl.Error().Msgf(format, v...)
}

// With returns a child logger with an extra field.
func (l *ZeroLogger) With(key string, value interface{}) Logger {
	return &ZeroLogger{zl: l.zl.With().Interface(key, value).Logger()}
}

// DefaultLogger returns a console logger with RFC3339 timestamps at info level.
func DefaultLogger() *ZeroLogger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	return NewZeroLogger(zerolog.New(output).Level(zerolog.InfoLevel).With().Timestamp().Logger())
}

// NopLogger discards everything.
func NopLogger() *ZeroLogger {
	return NewZeroLogger(zerolog.Nop())
}

func NewLogger(custom Logger) Logger {
	if custom != nil {
		return custom
	}

	return DefaultLogger()
}

// LoggerWith attaches a field when the logger supports it, otherwise returns the logger unchanged.
func LoggerWith(logger Logger, key string, value interface{}) Logger {
	if fl, ok := logger.(FieldLogger); ok {
		return fl.With(key, value)
	}
	return logger
}

type loggerKey struct{}

type processorPathKey struct{}

// ContextWithLogger stores logger in ctx.
func ContextWithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFromContext returns the logger stored by the running chain, or fallback.
func LoggerFromContext(ctx context.Context, fallback Logger) Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(Logger); ok && l != nil {
			return l
		}
	}
	return fallback
}

// ContextWithProcessorPath records the location of the running processor.
func ContextWithProcessorPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, processorPathKey{}, path)
}

// ProcessorPath is the location of the running processor, empty outside a chain.
func ProcessorPath(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(processorPathKey{}).(string)
	return s
}
