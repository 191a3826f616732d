package util

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const (
	DEBUG = iota
	INFO
	WARN
	ERROR
)

var logLevelMaps = map[int]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

var (
	defaultLog = &SimpleLog{out: os.Stderr, level: INFO}
	logLock    sync.Mutex
)

// SimpleLog is a small leveled logger. Components grab a header wrapper once
// and every line they print carries it, like
// `2026/08/28 00:00:00.000000 [executor] [INFO]: stage done`.
type SimpleLog struct {
	out   io.Writer
	level int
}

// InitLogger replaces the process logger destination and level. Safe to call
// before any worker starts; lines from running workers keep the old writer.
func InitLogger(out io.Writer, level int) {
	logLock.Lock()
	defer logLock.Unlock()
	defaultLog = &SimpleLog{out: out, level: level}
}

type SimpleLogWrapper struct {
	header string
}

func GetLog(header string) SimpleLogWrapper {
	return SimpleLogWrapper{header: header}
}

func (log SimpleLogWrapper) printF(level int, format string, args ...interface{}) {
	logLock.Lock()
	l := defaultLog
	logLock.Unlock()
	if level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.out, "%s [%s] [%s]: %s\n",
		time.Now().Format("2006/01/02 15:04:05.000000"), log.header, logLevelMaps[level], msg)
}

func (log SimpleLogWrapper) DebugF(format string, args ...interface{}) {
	log.printF(DEBUG, format, args...)
}

func (log SimpleLogWrapper) InfoF(format string, args ...interface{}) {
	log.printF(INFO, format, args...)
}

func (log SimpleLogWrapper) WarnF(format string, args ...interface{}) {
	log.printF(WARN, format, args...)
}

func (log SimpleLogWrapper) ErrorF(format string, args ...interface{}) {
	log.printF(ERROR, format, args...)
}
