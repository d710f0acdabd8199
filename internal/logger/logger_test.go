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

package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogLevelOrdering(t *testing.T) {
	if !(DEBUG < INFO && INFO < WARN && WARN < ERROR) {
		t.Fatal("expected DEBUG < INFO < WARN < ERROR")
	}
}

func TestLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(WARN, &buf)
	l.Debugf("should not appear")
	l.Infof("should not appear either")
	l.Warnf("warn message")
	l.Errorf("error message")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Fatalf("expected DEBUG/INFO to be filtered, got: %q", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Fatalf("expected WARN and ERROR to be emitted, got: %q", out)
	}
}

func TestLoggerSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(ERROR, &buf)
	l.Infof("ignored")
	l.SetLevel(DEBUG)
	l.Infof("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Fatal("expected message after SetLevel(DEBUG)")
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Debugf("noop")
	l.Infof("noop")
	l.Warnf("noop")
	l.Errorf("noop")
	l.SetLevel(DEBUG)
}
