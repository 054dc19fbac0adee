// Package signals validates the signals the task service accepts to
// deliver to a running instance. Only SIGKILL, SIGINT, SIGTERM, and
// SIGQUIT are supported: an interactive terminal's full signal set
// (SIGWINCH, job-control signals, and so on) does not apply here since
// exec into a running task is out of scope.
package signals

import (
	"errors"
	"strconv"
	"strings"
	"syscall"
)

// ErrInvalidSignal is returned for a signal number or name outside
// the accepted set.
var ErrInvalidSignal = errors.New("invalid signal value")

var byName = map[string]syscall.Signal{
	"KILL": syscall.SIGKILL,
	"INT":  syscall.SIGINT,
	"TERM": syscall.SIGTERM,
	"QUIT": syscall.SIGQUIT,
}

// ShouldKill reports whether signal should be treated as terminating
// the instance outright (as opposed to a signal the process might
// catch and ignore), which governs whether the task service tears
// down the instance's supervision state once delivered.
func ShouldKill(signal uint32) bool {
	return syscall.Signal(signal) == syscall.SIGKILL
}

// Validate checks that signal is one of the accepted values, returning
// it unchanged on success.
func Validate(signal uint32) (syscall.Signal, error) {
	s := syscall.Signal(signal)
	switch s {
	case syscall.SIGKILL, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
		return s, nil
	default:
		return 0, ErrInvalidSignal
	}
}

// ParseSigstr validates a signal given as either its integer value or
// its name (with or without the "SIG" prefix, case-insensitively).
func ParseSigstr(sigstr string) (syscall.Signal, error) {
	if sigstr == "" {
		return syscall.SIGTERM, nil
	}
	if n, err := strconv.Atoi(sigstr); err == nil {
		return Validate(uint32(n))
	}
	name := strings.TrimPrefix(strings.ToUpper(sigstr), "SIG")
	if s, ok := byName[name]; ok {
		return s, nil
	}
	return 0, ErrInvalidSignal
}
