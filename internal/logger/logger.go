// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package logger is a small level-filtered wrapper around the standard
// library's log.Logger. AnnData carries an optional *logger.Logger field
// (an AnnDataSet sets it on its annotation), and frame/index WriteTo take
// one as a parameter; a nil Logger is always safe to call methods on and
// simply discards output.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// LogLevel orders the severities a Logger will emit.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger filters log.Logger output by level. The zero value is not
// usable directly; construct one with New. A nil *Logger is safe to call
// every method on (all become no-ops), so components can hold a
// *Logger field without forcing callers to provide one.
type Logger struct {
	mu     sync.Mutex
	level  LogLevel
	logger *log.Logger
}

// New returns a Logger that writes to os.Stderr and emits messages at or
// above level.
func New(level LogLevel) *Logger {
	return &Logger{
		level:  level,
		logger: log.New(os.Stderr, "", log.LstdFlags),
	}
}

// NewWriter returns a Logger that writes to w instead of os.Stderr,
// primarily useful in tests that want to capture output.
func NewWriter(level LogLevel, w io.Writer) *Logger {
	return &Logger{
		level:  level,
		logger: log.New(w, "", log.LstdFlags),
	}
}

// SetLevel changes the minimum level this Logger will emit.
func (l *Logger) SetLevel(level LogLevel) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *Logger) log(level LogLevel, format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}
	l.logger.Printf("[%s] %s", level, fmt.Sprintf(format, args...))
}

// Debugf logs at DEBUG level.
func (l *Logger) Debugf(format string, args ...any) { l.log(DEBUG, format, args...) }

// Infof logs at INFO level.
func (l *Logger) Infof(format string, args ...any) { l.log(INFO, format, args...) }

// Warnf logs at WARN level.
func (l *Logger) Warnf(format string, args ...any) { l.log(WARN, format, args...) }

// Errorf logs at ERROR level.
func (l *Logger) Errorf(format string, args ...any) { l.log(ERROR, format, args...) }
