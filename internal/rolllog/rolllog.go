// Package rolllog implements the leveled, timezone-aware log sink that is
// the daemon's one external file-format contract: message format and
// level thresholds are pinned and must not drift.
package rolllog

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Level is one of the eleven numeric log levels. Never and Always are
// not user-selectable.
type Level int

const (
	Never  Level = 0
	TMI    Level = 1
	Expire Level = 3
	Info   Level = 4
	Phase  Level = 6
	Err    Level = 8
	Fatal  Level = 9
	Always Level = 10
)

const (
	Min = Never
	Max = Always
)

const Default = Info

var names = map[Level]string{
	Never:  "never",
	TMI:    "tmi",
	Expire: "expire",
	Info:   "info",
	Phase:  "phase",
	Err:    "err",
	Fatal:  "fatal",
	Always: "always",
}

var byName = func() map[string]Level {
	m := make(map[string]Level, len(names))
	for lvl, name := range names {
		m[name] = lvl
	}
	return m
}()

// String renders the level's canonical name ("tmi", "info", ...), or
// its bare number if it falls outside the named set.
func (l Level) String() string {
	if name, ok := names[l]; ok {
		return name
	}
	return strconv.Itoa(int(l))
}

// ParseLevel accepts either a numeric string or a level name ("tmi",
// "info", ...). It returns an error for anything else.
func ParseLevel(s string) (Level, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return Level(n), nil
	}
	if lvl, ok := byName[s]; ok {
		return lvl, nil
	}
	return 0, fmt.Errorf("rolllog: unknown logging level %q", s)
}

// Timezone selects the clock used for message timestamps.
type Timezone string

const (
	GMT   Timezone = "gmt"
	Local Timezone = "local"
)

const DefaultTZ = GMT

// Logger is a leveled log sink matching the "-": stdout, file-or-path
// semantics, and runtime level/file/tz changes of the reference daemon.
type Logger struct {
	mu    sync.Mutex
	level Level
	tz    Timezone
	path  string
	out   *os.File
}

// New opens path (or stdout if path is "-" or empty) at the given level
// and timezone.
func New(path string, level Level, tz Timezone) (*Logger, error) {
	l := &Logger{level: level, tz: tz}
	if err := l.SetFile(path); err != nil {
		return nil, err
	}
	return l, nil
}

// SetFile changes the log file at runtime. "-" maps to stdout. Returns
// an error only when the new file cannot be opened.
func (l *Logger) SetFile(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if path == "-" || path == "" {
		l.closeLocked()
		l.out = os.Stdout
		l.path = path
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("rolllog: open %s: %w", path, err)
	}
	l.closeLocked()
	l.out = f
	l.path = path
	return nil
}

func (l *Logger) closeLocked() {
	if l.out != nil && l.out != os.Stdout {
		l.out.Close()
	}
}

// File returns the current log file path ("-" for stdout).
func (l *Logger) File() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Level returns the current log level.
func (l *Logger) Level() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetLevel changes the current log level at runtime.
func (l *Logger) SetLevel(lvl Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = lvl
}

// Timezone returns the current timezone selector.
func (l *Logger) Timezone() Timezone {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tz
}

// SetTimezone changes the timezone selector ("gmt" or "local").
func (l *Logger) SetTimezone(tz Timezone) error {
	if tz != GMT && tz != Local {
		return fmt.Errorf("rolllog: invalid timezone %q", tz)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tz = tz
	return nil
}

// Log emits msg at lvl with an optional administrative field, iff lvl is
// at or above the current threshold. Format: "Mmm DD HH:MM:SS: field: msg".
func (l *Logger) Log(lvl Level, field, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lvl < l.level {
		return
	}

	now := time.Now()
	if l.tz == GMT {
		now = now.UTC()
	}

	var fld string
	if field != "" {
		fld = field + ": "
	}

	line := fmt.Sprintf("%s: %s%s", now.Format("Jan 02 15:04:05"), fld, msg)
	if l.out == nil {
		l.out = os.Stdout
	}
	fmt.Fprintln(l.out, line)
}

// Phasef logs at Phase level with no field, the canonical "{CLASS} phase
// {N}" message used by the phase engine.
func (l *Logger) Phasef(class string, phase int) {
	l.Log(Phase, "", fmt.Sprintf("%s phase %d", strings.ToUpper(class), phase))
}

// Expiref logs at Expire level.
func (l *Logger) Expiref(field, format string, args ...interface{}) {
	l.Log(Expire, field, fmt.Sprintf(format, args...))
}

// Infof logs at Info level.
func (l *Logger) Infof(field, format string, args ...interface{}) {
	l.Log(Info, field, fmt.Sprintf(format, args...))
}

// Errf logs at Err level.
func (l *Logger) Errf(field, format string, args ...interface{}) {
	l.Log(Err, field, fmt.Sprintf(format, args...))
}

// Fatalf logs at Fatal level.
func (l *Logger) Fatalf(field, format string, args ...interface{}) {
	l.Log(Fatal, field, fmt.Sprintf(format, args...))
}
