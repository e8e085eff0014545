//go:build linux || darwin || freebsd || openbsd || netbsd

// Package plog wraps UNIX syslog for parceld/parcel's ambient logging, with
// a no-op Windows build (plog_windows.go) since the stdlib log/syslog
// package has no Windows implementation.
package plog

import (
	sl "log/syslog"
)

// Priority is the logger priority.
type Priority = sl.Priority

// Writer is a syslog Writer.
type Writer = sl.Writer

// nolint: golint
const (
	// Severity.
	LOG_EMERG Priority = iota
	LOG_ALERT
	LOG_CRIT
	LOG_ERR
	LOG_WARNING
	LOG_NOTICE
	LOG_INFO
	LOG_DEBUG
)

// nolint: golint
const (
	// Facility.
	LOG_KERN Priority = iota << 3
	LOG_USER
	LOG_MAIL
	LOG_DAEMON
	LOG_AUTH
	LOG_SYSLOG
	LOG_LPR
	LOG_NEWS
	LOG_UUCP
	LOG_CRON
	LOG_AUTHPRIV
	LOG_FTP
	_ // unused
	_ // unused
	_ // unused
	_ // unused
	LOG_LOCAL0
	LOG_LOCAL1
	LOG_LOCAL2
	LOG_LOCAL3
	LOG_LOCAL4
	LOG_LOCAL5
	LOG_LOCAL6
	LOG_LOCAL7
)

var l *sl.Writer

// New returns a new log Writer.
func New(flags Priority, tag string) (w *Writer, e error) {
	w, e = sl.New(flags, tag)
	l = w
	return w, e
}

// Alert logs at ALERT severity.
func Alert(s string) error {
	if l != nil {
		return l.Alert(s)
	}
	return nil
}

// Close closes the log Writer.
func Close() error {
	if l != nil {
		return l.Close()
	}
	return nil
}

// Crit logs at CRIT severity.
func Crit(s string) error {
	if l != nil {
		return l.Crit(s)
	}
	return nil
}

// Debug logs at DEBUG severity.
func Debug(s string) error {
	if l != nil {
		return l.Debug(s)
	}
	return nil
}

// Err logs at ERR severity.
func Err(s string) error {
	if l != nil {
		return l.Err(s)
	}
	return nil
}

// Notice logs at NOTICE severity.
func Notice(s string) error {
	if l != nil {
		return l.Notice(s)
	}
	return nil
}

// Warning logs at WARNING severity.
func Warning(s string) error {
	if l != nil {
		return l.Warning(s)
	}
	return nil
}

// Write writes to the logger at default level.
func Write(b []byte) (int, error) {
	if l != nil {
		return l.Write(b)
	}
	return len(b), nil
}
