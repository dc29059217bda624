// Package configs holds cluster-wide constants, the gated debug-print
// helpers used in place of a structured logger, and the topology config
// loader.
package configs

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Debugging gates. Flip these on to get traced output of the protocol
// drivers; left off by default to keep the hot path quiet.
var (
	ShowDebugInfo = false
	ShowTestInfo  = ShowDebugInfo
	ShowWarnings  = ShowDebugInfo
	LogToFile     = true
)

func DPrintf(format string, a ...interface{}) {
	if !ShowDebugInfo {
		return
	}
	emit(format, a...)
}

func TPrintf(format string, a ...interface{}) {
	if !ShowTestInfo {
		return
	}
	emit(format, a...)
}

func NodePrintf(nodeID uint32, format string, a ...interface{}) {
	if !ShowDebugInfo {
		return
	}
	emit("node"+strconv.FormatUint(uint64(nodeID), 10)+": "+format, a...)
}

func Warn(cond bool, msg string) bool {
	if ShowWarnings && !cond {
		emit("[WARNING] %s", msg)
	}
	return cond
}

func emit(format string, a ...interface{}) {
	line := time.Now().Format("15:04:05.000") + " <dc> " + format
	if LogToFile {
		log.Printf(line, a...)
	} else {
		fmt.Printf(line+"\n", a...)
	}
}

// Assert is the Go stand-in for the source's ndbrequire: a violated
// internal invariant is a programming error, not a recoverable
// condition, and panics immediately.
func Assert(cond bool, msg string) bool {
	if !cond {
		panic("[ndbrequire] " + msg)
	}
	return cond
}

// CheckError panics on unexpected, unrecoverable I/O errors (both
// sysfile copies unreadable, listener setup failure, ...). Recoverable
// protocol errors never flow through here; see package dcerr.
func CheckError(err error) {
	if err != nil {
		panic(err.Error())
	}
}

func JToString(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func JPrint(v interface{}) {
	fmt.Println(JToString(v))
}
