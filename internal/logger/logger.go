/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package logger wraps logrus with the two destinations and the single
// trace toggle the server's configuration exposes: an error stream, an
// output/trace stream, and nio.trace_flag gating Trace-level calls. It
// is a trimmed sibling of a much larger structured-logging package,
// keeping only what a single-process cache server needs.
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the logging surface the rest of the server depends on.
type Logger interface {
	Trace(message string, args ...interface{})
	Info(message string, args ...interface{})
	Warning(message string, args ...interface{})
	Error(message string, args ...interface{})
	Fatal(message string, args ...interface{})

	// SetTrace toggles whether Trace calls are emitted, mirroring
	// nio.trace_flag.
	SetTrace(enabled bool)
}

type lgr struct {
	out   *logrus.Logger
	err   *logrus.Logger
	trace bool
}

// Options configures where the two streams write. An empty path keeps
// the default (stdout for output, stderr for errors), matching the
// specification's defaults for nio.output_file/nio.error_file.
type Options struct {
	OutputFile string
	ErrorFile  string
	TraceFlag  bool
}

// New builds a Logger from opt, opening any file destinations named.
func New(opt Options) (Logger, error) {
	out, err := streamFor(opt.OutputFile, os.Stdout)
	if err != nil {
		return nil, err
	}
	errOut, err := streamFor(opt.ErrorFile, os.Stderr)
	if err != nil {
		return nil, err
	}

	outLog := logrus.New()
	outLog.SetOutput(out)
	outLog.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	// Trace writes at Debug level; the trace flag, not the logrus level,
	// decides whether it is emitted.
	outLog.SetLevel(logrus.DebugLevel)

	errLog := logrus.New()
	errLog.SetOutput(errOut)
	errLog.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	return &lgr{out: outLog, err: errLog, trace: opt.TraceFlag}, nil
}

func streamFor(path string, fallback *os.File) (io.Writer, error) {
	if path == "" {
		return fallback, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (l *lgr) SetTrace(enabled bool) { l.trace = enabled }

// Trace logs accept/dispatch-level detail, gated by nio.trace_flag --
// the Go equivalent of the original's g_trace_mode checks sprinkled
// through the accept loop.
func (l *lgr) Trace(message string, args ...interface{}) {
	if !l.trace {
		return
	}
	l.out.Debugf(message, args...)
}

func (l *lgr) Info(message string, args ...interface{}) {
	l.out.Infof(message, args...)
}

func (l *lgr) Warning(message string, args ...interface{}) {
	l.out.Warnf(message, args...)
}

func (l *lgr) Error(message string, args ...interface{}) {
	l.err.Errorf(message, args...)
}

func (l *lgr) Fatal(message string, args ...interface{}) {
	l.err.Fatalf(message, args...)
}
