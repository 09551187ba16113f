// Package xlog is a minimal leveled logger for the proxy, in the shape of
// the teacher's common.ILogger/common.LogLevel: a small severity enum, a
// ShouldLog/Log pair, and nothing else. It drops everything the teacher's
// jobLogger carries that doesn't apply here — log-file rotation, per-job
// file naming, secret sanitization — since a forward proxy has no job
// concept and nothing in its request/response path is a credential.
package xlog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/google/uuid"
)

// LogLevel mirrors the teacher's common.LogLevel ordering: lower values
// are more severe, LogNone disables logging entirely.
type LogLevel uint8

const (
	LogNone LogLevel = iota
	LogError
	LogWarning
	LogInfo
	LogDebug
)

func (l LogLevel) String() string {
	switch l {
	case LogNone:
		return "NONE"
	case LogError:
		return "ERROR"
	case LogWarning:
		return "WARN"
	case LogInfo:
		return "INFO"
	case LogDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ILogger is the logging contract the proxy depends on, matching the
// teacher's common.ILogger shape.
type ILogger interface {
	ShouldLog(level LogLevel) bool
	Log(level LogLevel, msg string)
}

type logger struct {
	mu                sync.Mutex
	minimumLevelToLog LogLevel
	out               *log.Logger
}

// New returns an ILogger that writes to w, logging everything at or above
// the given severity (i.e. with LogLevel <= minimumLevelToLog).
func New(w io.Writer, minimumLevelToLog LogLevel) ILogger {
	return &logger{
		minimumLevelToLog: minimumLevelToLog,
		out:               log.New(w, "", log.LstdFlags|log.Lmicroseconds),
	}
}

// NewStderr is the common case: log to stderr at LogInfo.
func NewStderr() ILogger {
	return New(os.Stderr, LogInfo)
}

func (l *logger) ShouldLog(level LogLevel) bool {
	if level == LogNone {
		return false
	}
	return level <= l.minimumLevelToLog
}

func (l *logger) Log(level LogLevel, msg string) {
	if !l.ShouldLog(level) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Printf("%s: %s", level, msg)
}

// ConnID returns a short correlation id for a single accepted connection,
// so its log lines can be grepped out of an otherwise interleaved stream.
func ConnID() string {
	return uuid.New().String()[:8]
}

// Fields formats key/value pairs the way the rest of the proxy's log
// lines are built: "key=value key2=value2 ...".
func Fields(kv ...interface{}) string {
	s := ""
	for i := 0; i+1 < len(kv); i += 2 {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%v=%v", kv[i], kv[i+1])
	}
	return s
}
