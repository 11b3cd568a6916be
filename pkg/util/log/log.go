// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package log wraps seelog behind a process-wide logger
package log

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cihub/seelog"
)

var (
	logger atomic.Pointer[probeLogger]

	// Lines logged before SetupLogger is called are kept here and replayed once the
	// logger exists: config loading happens before logging is configured.
	logsBuffer           = []func(){}
	bufferLogsBeforeInit = true
	bufferMutex          sync.Mutex

	defaultStackDepth = 3
)

type probeLogger struct {
	l     sync.RWMutex
	inner seelog.LoggerInterface
	level seelog.LogLevel
}

// SetupLogger configures the logger singleton with a seelog interface
func SetupLogger(i seelog.LoggerInterface, level string) {
	lvl, ok := seelog.LogLevelFromString(strings.ToLower(level))
	if !ok {
		lvl = seelog.InfoLvl
	}

	// The exported helpers add two frames between the caller and seelog
	i.SetAdditionalStackDepth(defaultStackDepth) //nolint:errcheck
	logger.Store(&probeLogger{inner: i, level: lvl})

	bufferMutex.Lock()
	defer bufferMutex.Unlock()
	bufferLogsBeforeInit = false
	for _, logLine := range logsBuffer {
		logLine()
	}
	logsBuffer = []func(){}
}

func addLogToBuffer(logHandle func()) {
	bufferMutex.Lock()
	defer bufferMutex.Unlock()

	if bufferLogsBeforeInit {
		logsBuffer = append(logsBuffer, logHandle)
	}
}

func (pl *probeLogger) shouldLog(level seelog.LogLevel) bool {
	pl.l.RLock()
	defer pl.l.RUnlock()
	return level >= pl.level
}

func (pl *probeLogger) get() seelog.LoggerInterface {
	pl.l.RLock()
	defer pl.l.RUnlock()
	return pl.inner
}

func logFormat(level seelog.LogLevel, bufferFunc func(), logFunc func(seelog.LoggerInterface), fallbackStderr bool, format string, params ...interface{}) error {
	pl := logger.Load()
	if pl == nil {
		addLogToBuffer(bufferFunc)
	} else if pl.shouldLog(level) {
		logFunc(pl.get())
	}

	if level < seelog.WarnLvl {
		return nil
	}
	err := fmt.Errorf(format, params...)
	if pl == nil && fallbackStderr {
		fmt.Fprintf(os.Stderr, "%s: %s\n", level.String(), err.Error())
	}
	return err
}

// Tracef logs at the trace level
func Tracef(format string, params ...interface{}) {
	logFormat(seelog.TraceLvl, func() { Tracef(format, params...) }, func(l seelog.LoggerInterface) { l.Tracef(format, params...) }, false, format, params...) //nolint:errcheck
}

// Debugf logs at the debug level
func Debugf(format string, params ...interface{}) {
	logFormat(seelog.DebugLvl, func() { Debugf(format, params...) }, func(l seelog.LoggerInterface) { l.Debugf(format, params...) }, false, format, params...) //nolint:errcheck
}

// Infof logs at the info level
func Infof(format string, params ...interface{}) {
	logFormat(seelog.InfoLvl, func() { Infof(format, params...) }, func(l seelog.LoggerInterface) { l.Infof(format, params...) }, false, format, params...) //nolint:errcheck
}

// Info logs at the info level
func Info(v ...interface{}) {
	msg := fmt.Sprint(v...)
	Infof("%s", msg)
}

// Warnf logs at the warn level and returns an error containing the formatted log message
func Warnf(format string, params ...interface{}) error {
	return logFormat(seelog.WarnLvl, func() { Warnf(format, params...) }, func(l seelog.LoggerInterface) { l.Warnf(format, params...) }, false, format, params...) //nolint:errcheck
}

// Warn logs at the warn level and returns an error containing the log message
func Warn(v ...interface{}) error {
	msg := fmt.Sprint(v...)
	return Warnf("%s", msg)
}

// Errorf logs at the error level and returns an error containing the formatted log message
func Errorf(format string, params ...interface{}) error {
	return logFormat(seelog.ErrorLvl, func() { Errorf(format, params...) }, func(l seelog.LoggerInterface) { l.Errorf(format, params...) }, true, format, params...) //nolint:errcheck
}

// Error logs at the error level and returns an error containing the log message
func Error(v ...interface{}) error {
	msg := fmt.Sprint(v...)
	return Errorf("%s", msg)
}

// Criticalf logs at the critical level and returns an error containing the formatted log message
func Criticalf(format string, params ...interface{}) error {
	return logFormat(seelog.CriticalLvl, func() { Criticalf(format, params...) }, func(l seelog.LoggerInterface) { l.Criticalf(format, params...) }, true, format, params...) //nolint:errcheck
}

// Flush flushes the underlying inner log
func Flush() {
	if pl := logger.Load(); pl != nil {
		pl.get().Flush()
	}
}

// GetLogLevel returns the current log level
func GetLogLevel() (seelog.LogLevel, error) {
	pl := logger.Load()
	if pl == nil {
		return seelog.InfoLvl, errors.New("cannot get loglevel: logger not initialized")
	}
	pl.l.RLock()
	defer pl.l.RUnlock()
	return pl.level, nil
}

// ShouldLog returns whether a message at level would be logged
func ShouldLog(level seelog.LogLevel) bool {
	pl := logger.Load()
	return pl != nil && pl.shouldLog(level)
}

// ChangeLogLevel replaces the inner logger and the level. seelog loggers cannot be
// updated in place, so a new one is required.
func ChangeLogLevel(i seelog.LoggerInterface, level string) error {
	pl := logger.Load()
	if pl == nil {
		return errors.New("cannot change loglevel: logger not initialized")
	}
	lvl, ok := seelog.LogLevelFromString(strings.ToLower(level))
	if !ok {
		return fmt.Errorf("bad log level %q", level)
	}
	if err := i.SetAdditionalStackDepth(defaultStackDepth); err != nil {
		return err
	}

	pl.l.Lock()
	defer pl.l.Unlock()
	pl.inner = i
	pl.level = lvl
	return nil
}
