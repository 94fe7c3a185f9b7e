// Package klog is the kernel debug-log console: a leveled, per-module
// trace logger modeled on original_source's DebugLogOutput(module, line,
// ...) together with the teacher's uartPuts console writes.
//
// Unlike a hosted logging library, klog keeps a fixed-capacity ring of its
// most recent formatted lines in memory (see Scrollback) so that a panic path or
// a debug kernel call can replay recent history the way a real serial
// console's scrollback would.
package klog

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/cloudwego/gopkg/container/ring"
)

// Module identifies the subsystem emitting a log line, mirroring the
// original's CMN_MODULE_* tags.
type Module string

const (
	ModMemMng  Module = "memmng"
	ModTaskMng Module = "taskmng"
	ModIntMng  Module = "intmng"
	ModKCall   Module = "kcall"
	ModSched   Module = "sched"
	ModPaging  Module = "paging"
)

// Level is the severity of a log line.
type Level int

const (
	Trace Level = iota
	Info
	Warn
)

func (l Level) String() string {
	switch l {
	case Trace:
		return "TRACE"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	default:
		return "?"
	}
}

const ringCapacity = 256

// Logger is a leveled console logger with a bounded scrollback ring.
type Logger struct {
	mu   sync.Mutex
	out  io.Writer
	min  Level
	ring []string // backing slice for the ring.Ring view
	r    *ring.Ring[string]
	next int
	n    int
}

// New creates a Logger writing lines at or above min to out.
func New(out io.Writer, min Level) *Logger {
	backing := make([]string, ringCapacity)
	return &Logger{
		out:  out,
		min:  min,
		ring: backing,
		r:    ring.NewFromSlice(backing),
	}
}

// Default is the package-level logger used by callers that don't carry
// their own Logger handle, analogous to the teacher's global uartPuts.
var Default = New(os.Stderr, Info)

func (l *Logger) record(line string) {
	item, ok := l.r.Get(l.next)
	if ok {
		*item.Pointer() = line
	}
	l.next = (l.next + 1) % ringCapacity
	if l.n < ringCapacity {
		l.n++
	}
}

func (l *Logger) log(level Level, mod Module, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := fmt.Sprintf("[%s] %-7s %s", mod, level, fmt.Sprintf(format, args...))
	l.record(line)
	if level >= l.min {
		fmt.Fprintln(l.out, line)
	}
}

func (l *Logger) Tracef(mod Module, format string, args ...interface{}) {
	l.log(Trace, mod, format, args...)
}

func (l *Logger) Infof(mod Module, format string, args ...interface{}) {
	l.log(Info, mod, format, args...)
}

func (l *Logger) Warnf(mod Module, format string, args ...interface{}) {
	l.log(Warn, mod, format, args...)
}

// Panic logs a fatal invariant violation at Warn level, dumps the
// scrollback ring to out, and panics. This replaces the original's
// "proceed into an undefined state" behavior for unrecoverable errors
// (spec §7).
func (l *Logger) Panic(mod Module, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.log(Warn, mod, "PANIC: %s", msg)
	for _, line := range l.Scrollback() {
		fmt.Fprintln(l.out, line)
	}
	panic(fmt.Sprintf("klog: %s: %s", mod, msg))
}

// Scrollback returns the retained lines in oldest-to-newest order.
func (l *Logger) Scrollback() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, 0, l.n)
	start := l.next - l.n
	for i := 0; i < l.n; i++ {
		idx := ((start+i)%ringCapacity + ringCapacity) % ringCapacity
		item, ok := l.r.Get(idx)
		if ok && item.Value() != "" {
			out = append(out, item.Value())
		}
	}
	return out
}
