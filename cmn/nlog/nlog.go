// Package nlog provides a minimal leveled logger for the runtime core.
//
// It intentionally stays on top of the standard log package rather than
// reaching for a structured logging library: every call site in this repo
// already carries its own context (operation id, xd guid, shard id) in the
// message, so structured fields would just be string-formatted again.
package nlog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
)

// Level is the active verbosity. FastV callers compare against it without
// taking a lock, so hot paths (request generation, collective stage
// advance) can skip expensive formatting entirely.
var level int64

func SetLevel(v int) { atomic.StoreInt64(&level, int64(v)) }

// FastV reports whether logging at verbosity v, for the given module, is
// currently enabled. The module argument exists for call-site symmetry with
// larger deployments that gate per-module verbosity independently; this
// implementation gates globally.
func FastV(v int, _ string) bool {
	return atomic.LoadInt64(&level) >= int64(v)
}

var (
	mu  sync.Mutex
	std = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lmicroseconds)
)

// SetOutput redirects the logger, e.g. to a rotating file writer.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	std.SetOutput(w)
}

func Infoln(v ...any) { logln("I", v...) }
func Infof(format string, v ...any) { logf("I", format, v...) }
func Warningln(v ...any) { logln("W", v...) }
func Warningf(format string, v ...any) { logf("W", format, v...) }
func Errorln(v ...any) { logln("E", v...) }
func Errorf(format string, v ...any) { logf("E", format, v...) }

func logln(tag string, v ...any) {
	mu.Lock()
	defer mu.Unlock()
	std.Output(3, tag+" "+fmt.Sprintln(v...))
}

func logf(tag string, format string, v ...any) {
	mu.Lock()
	defer mu.Unlock()
	std.Output(3, tag+" "+fmt.Sprintf(format, v...))
}

// Flush is a no-op placeholder kept for symmetry with deployments that
// buffer log lines; the standard-log backend here writes synchronously.
func Flush() {}
