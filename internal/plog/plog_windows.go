//go:build windows

package plog

import "os"

type Priority = int
type Writer = os.File

const (
	LOG_EMERG Priority = iota
	LOG_ALERT
	LOG_CRIT
	LOG_ERR
	LOG_WARNING
	LOG_NOTICE
	LOG_INFO
	LOG_DEBUG
)

const (
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
	_
	_
	_
	_
	LOG_LOCAL0
	LOG_LOCAL1
	LOG_LOCAL2
	LOG_LOCAL3
	LOG_LOCAL4
	LOG_LOCAL5
	LOG_LOCAL6
	LOG_LOCAL7
)

func New(flags Priority, tag string) (w *Writer, e error) { return os.Stderr, nil }

func Alert(s string) error          { return nil }
func Close() error                  { return nil }
func Crit(s string) error           { return nil }
func Debug(s string) error          { return nil }
func Err(s string) error            { return nil }
func Notice(s string) error         { return nil }
func Warning(s string) error        { return nil }
func Write(b []byte) (int, error)   { return len(b), nil }
