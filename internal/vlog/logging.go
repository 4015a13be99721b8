/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package vlog is the operational logger for the monitor: a level-gated,
// multi-writer logger that frames lines as RFC5424 structured-data messages.
package vlog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
	"github.com/shirou/gopsutil/v4/host"
)

const (
	OFF   Level = 0
	DEBUG Level = 1
	INFO  Level = 2
	WARN  Level = 3
	ERROR Level = 4
)

const (
	defaultDepth = 3
	appID        = `vigil@1`
)

var (
	ErrNotOpen      = errors.New("logger is not open")
	ErrInvalidLevel = errors.New("log level is invalid")
)

type Level int

func (l Level) String() string {
	switch l {
	case OFF:
		return `OFF`
	case DEBUG:
		return `DEBUG`
	case INFO:
		return `INFO`
	case WARN:
		return `WARN`
	case ERROR:
		return `ERROR`
	}
	return `UNKNOWN`
}

func (l Level) priority() rfc5424.Priority {
	switch l {
	case DEBUG:
		return rfc5424.User | rfc5424.Debug
	case INFO:
		return rfc5424.User | rfc5424.Info
	case WARN:
		return rfc5424.User | rfc5424.Warning
	case ERROR:
		return rfc5424.User | rfc5424.Error
	}
	return rfc5424.User | rfc5424.Debug
}

// Logger writes level-gated lines to one or more writers. Lines below the
// current level (INFO unless changed with SetLevel) are skipped; the logger
// itself does not read the "quiet" config option.
type Logger struct {
	mtx      sync.Mutex
	wtrs     []io.WriteCloser
	lvl      Level
	hot      bool
	hostname string
	appname  string
}

// NewFile opens (or appends to) a log file and wraps it in a Logger.
func NewFile(path string) (*Logger, error) {
	fout, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return nil, err
	}
	return New(fout), nil
}

// New wraps an existing writer at level INFO.
func New(wtr io.WriteCloser) (l *Logger) {
	l = &Logger{
		wtrs: []io.WriteCloser{wtr},
		lvl:  INFO,
		hot:  true,
	}
	l.guessAppname()
	if hn, err := os.Hostname(); err == nil {
		l.hostname = hn
	}
	return
}

func (l *Logger) guessAppname() {
	if args := os.Args; len(args) > 0 {
		exe := filepath.Base(args[0])
		if ext := filepath.Ext(exe); len(ext) > 0 && len(ext) < len(exe) {
			exe = strings.TrimSuffix(exe, ext)
		}
		l.appname = exe
	}
}

// AddWriter attaches an additional destination (e.g. stderr alongside a file).
func (l *Logger) AddWriter(wtr io.WriteCloser) error {
	if wtr == nil {
		return errors.New("invalid writer, is nil")
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if !l.hot {
		return ErrNotOpen
	}
	l.wtrs = append(l.wtrs, wtr)
	return nil
}

func (l *Logger) Close() (err error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if !l.hot {
		return ErrNotOpen
	}
	l.hot = false
	for _, w := range l.wtrs {
		if lerr := w.Close(); lerr != nil {
			err = lerr
		}
	}
	return
}

func (l *Logger) SetLevel(lvl Level) error {
	if lvl < OFF || lvl > ERROR {
		return ErrInvalidLevel
	}
	l.mtx.Lock()
	l.lvl = lvl
	l.mtx.Unlock()
	return nil
}

func (l *Logger) Debugf(f string, args ...interface{}) { l.outputf(DEBUG, f, args...) }
func (l *Logger) Infof(f string, args ...interface{})  { l.outputf(INFO, f, args...) }
func (l *Logger) Warnf(f string, args ...interface{})  { l.outputf(WARN, f, args...) }
func (l *Logger) Errorf(f string, args ...interface{}) { l.outputf(ERROR, f, args...) }

// Debug, Info, Warn and Error attach structured key/value pairs as RFC5424
// structured-data parameters, built with the KV/KVErr helpers below.
func (l *Logger) Debug(msg string, sds ...rfc5424.SDParam) { l.outputStructured(DEBUG, msg, sds...) }
func (l *Logger) Info(msg string, sds ...rfc5424.SDParam)  { l.outputStructured(INFO, msg, sds...) }
func (l *Logger) Warn(msg string, sds ...rfc5424.SDParam)  { l.outputStructured(WARN, msg, sds...) }
func (l *Logger) Error(msg string, sds ...rfc5424.SDParam) { l.outputStructured(ERROR, msg, sds...) }

func (l *Logger) outputf(lvl Level, f string, args ...interface{}) {
	l.outputStructured(lvl, fmt.Sprintf(f, args...))
}

func (l *Logger) outputStructured(lvl Level, msg string, sds ...rfc5424.SDParam) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if !l.hot || l.lvl == OFF || lvl < l.lvl {
		return
	}
	ln := l.render(time.Now(), callLoc(defaultDepth), lvl, msg, sds...)
	for _, w := range l.wtrs {
		io.WriteString(w, ln)
		io.WriteString(w, "\n")
	}
}

func (l *Logger) render(ts time.Time, loc string, lvl Level, msg string, sds ...rfc5424.SDParam) string {
	m := rfc5424.Message{
		Priority:  lvl.priority(),
		Timestamp: ts,
		Hostname:  trimLength(255, l.hostname),
		AppName:   trimLength(48, l.appname),
		MessageID: trimLength(32, loc),
		Message:   []byte(msg),
	}
	if len(sds) > 0 {
		m.StructuredData = []rfc5424.StructuredData{{ID: appID, Parameters: sds}}
	}
	b, err := m.MarshalBinary()
	if err != nil || len(b) == 0 {
		return fmt.Sprintf("%s %s %s %s", ts.UTC().Format(time.RFC3339), lvl, loc, msg)
	}
	return strings.TrimRight(string(b), "\n\t\r")
}

// KV builds a structured-data parameter from a name/value pair.
func KV(name string, value interface{}) (r rfc5424.SDParam) {
	r.Name = name
	switch v := value.(type) {
	case string:
		r.Value = v
	default:
		r.Value = fmt.Sprintf("%v", value)
	}
	return
}

// KVErr is shorthand for KV("error", err).
func KVErr(err error) rfc5424.SDParam {
	return KV("error", err)
}

func callLoc(depth int) (s string) {
	if _, file, line, ok := runtime.Caller(depth); ok {
		dir, f := filepath.Split(file)
		f = filepath.Join(filepath.Base(dir), f)
		s = fmt.Sprintf("%s:%d", f, line)
	}
	return
}

func trimLength(n int, s string) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// PrintOSInfo logs a single operational line describing the host platform,
// mirroring a boot-time line real endpoint agents emit.
func PrintOSInfo(l *Logger) {
	plat, _, ver, err := host.PlatformInformation()
	if err != nil {
		l.Warn("failed to read platform information", KVErr(err))
		return
	}
	l.Info("host platform",
		KV("os", runtime.GOOS),
		KV("arch", runtime.GOARCH),
		KV("platform", plat),
		KV("platform_version", ver),
	)
}
