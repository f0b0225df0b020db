/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
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

package shm

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/valyala/bytebufferpool"

	internalshm "github.com/srediag/shmarc/internal/shm"
)

type logger struct {
	name      string
	out       atomic.Pointer[logOutput]
	callDepth int
}

type logOutput struct{ w io.Writer }

var (
	internalLogger = newLogger("", os.Stderr, 4)
	level          atomic.Int32

	magenta = string([]byte{27, 91, 57, 53, 109}) // Trace
	green   = string([]byte{27, 91, 57, 50, 109}) // Debug
	blue    = string([]byte{27, 91, 57, 52, 109}) // Info
	yellow  = string([]byte{27, 91, 57, 51, 109}) // Warn
	red     = string([]byte{27, 91, 57, 49, 109}) // Error
	reset   = string([]byte{27, 91, 48, 109})

	colors = []string{
		magenta,
		green,
		blue,
		yellow,
		red,
	}

	levelName = []string{
		"Trace",
		"Debug",
		"Info",
		"Warn",
		"Error",
	}
)

const (
	levelTrace = iota
	levelDebug
	levelInfo
	levelWarn
	levelError
	levelNoPrint
)

func newLogger(name string, out io.Writer, callDepth int) *logger {
	l := &logger{name: name, callDepth: callDepth}
	l.out.Store(&logOutput{out})
	return l
}

// fatalf logs and terminates the process; it is not recoverable with recover().
var fatalf = func(format string, a ...interface{}) {
	internalLogger.errorf("fatal: "+format, a...)
	os.Exit(2)
}

func init() {
	level.Store(levelWarn)
	if os.Getenv("SHMARC_LOG_LEVEL") != "" {
		if n, err := strconv.Atoi(os.Getenv("SHMARC_LOG_LEVEL")); err == nil {
			if n >= levelTrace && n <= levelNoPrint {
				level.Store(int32(n))
			}
		}
	}
}

// SetLogLevel changes the internal logger's level; the default level is Warn.
// The process env `SHMARC_LOG_LEVEL` also sets it (0 Trace .. 5 silent).
func SetLogLevel(l int) {
	if l >= levelTrace && l <= levelNoPrint {
		level.Store(int32(l))
	}
}

// SetLogOutput redirects the internal logger; nil restores stderr. It is safe to
// call while other goroutines log; out must serialize its own writes.
func SetLogOutput(out io.Writer) {
	if out == nil {
		out = os.Stderr
	}
	internalLogger.out.Store(&logOutput{out})
}

func (l *logger) errorf(format string, a ...interface{}) {
	l.printf(levelError, format, a...)
}

func (l *logger) warnf(format string, a ...interface{}) {
	l.printf(levelWarn, format, a...)
}

func (l *logger) infof(format string, a ...interface{}) {
	l.printf(levelInfo, format, a...)
}

func (l *logger) debugf(format string, a ...interface{}) {
	l.printf(levelDebug, format, a...)
}

func (l *logger) tracef(format string, a ...interface{}) {
	l.printf(levelTrace, format, a...)
}

func (l *logger) printf(lv int, format string, a ...interface{}) {
	if int(level.Load()) > lv {
		return
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	l.prefix(buf, lv)
	_, _ = fmt.Fprintf(buf, format, a...)
	_, _ = buf.WriteString(reset)
	_ = buf.WriteByte('\n')
	if _, err := l.out.Load().w.Write(buf.B); err != nil {
		fmt.Fprintf(os.Stderr, "logger write failed: %v\n", err)
	}
}

func (l *logger) prefix(buf *bytebufferpool.ByteBuffer, lv int) {
	_, _ = buf.WriteString(colors[lv])
	_, _ = buf.WriteString(levelName[lv])
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(time.Now().Format("2006-01-02 15:04:05.999999"))
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(l.location())
	_ = buf.WriteByte(' ')
	if l.name != "" {
		_, _ = buf.WriteString(l.name)
		_ = buf.WriteByte(' ')
	}
}

func (l *logger) location() string {
	_, file, line, ok := runtime.Caller(l.callDepth)
	if !ok {
		file = "???"
		line = 0
	}
	file = filepath.Base(file)
	return file + ":" + strconv.Itoa(line)
}

// DebugSegmentDetail prints the header of the segment `name` found in dir
// (the default namespace when dir is empty) without attaching to it.
func DebugSegmentDetail(dir, name string) {
	fmt.Print(segmentDetail(dir, name))
}

func segmentDetail(dir, name string) string {
	ns := internalshm.NewNamespace(dir, 0)
	n, err := internalshm.CleanName(name)
	if err != nil {
		return err.Error() + "\n"
	}
	mem, err := os.ReadFile(filepath.Join(ns.Dir, n))
	if err != nil {
		return err.Error() + "\n"
	}
	if len(mem) < int(headerSize) {
		return fmt.Sprintf("name:%s size:%d too small for a header\n", n, len(mem))
	}
	h := (*regionHeader)(unsafe.Pointer(&mem[0]))
	return fmt.Sprintf("name:%s size:%d magic:%#x ready:%#x counter:%d lock:%d owner:%d "+
		"layout{size:%d payloadOffset:%d payloadSize:%d payloadAlign:%d}\n",
		n, len(mem), h.magic, h.ready, h.refs, h.mu.state, h.mu.owner,
		h.size, h.payloadOffset, h.payloadSize, h.payloadAlign)
}
