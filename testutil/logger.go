package testutil

import (
	"fmt"
	"strings"
	"sync"

	"github.com/trezcool/edmm/core"
)

// LogEntry is one message recorded by Logger.
type LogEntry struct {
	Level string
	Msg   string
	Args  []interface{}
}

// Logger records log entries instead of printing them.
type Logger struct {
	mu      sync.Mutex
	entries []LogEntry
}

var _ core.Logger = (*Logger)(nil)

func NewLogger() *Logger {
	return new(Logger)
}

func (l *Logger) record(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg, Args: args})
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.record("debug", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.record("info", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.record("warn", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.record("error", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.record("fatal", msg, args)
	panic(fmt.Sprintf("fatal: %s", msg))
}

// Entries returns the entries logged at level, or every entry when level is empty.
func (l *Logger) Entries(level string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var entries []LogEntry
	for _, e := range l.entries {
		if level == "" || e.Level == level {
			entries = append(entries, e)
		}
	}
	return entries
}

// Logged tells whether a message containing substr was logged at level.
func (l *Logger) Logged(level, substr string) bool {
	for _, e := range l.Entries(level) {
		if strings.Contains(e.Msg, substr) {
			return true
		}
	}
	return false
}
