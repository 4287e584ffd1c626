package rpc

import (
	"errors"
	"fmt"

	"github.com/marmos91/tablerpc/pkg/auth"
)

// ReplyStat is the outcome carried by every reply.
type ReplyStat uint32

const (
	Success     ReplyStat = 0
	ProgUnavail ReplyStat = 1
	ProcUnavail ReplyStat = 2
	GarbageArgs ReplyStat = 3
	AuthError   ReplyStat = 4
	SystemError ReplyStat = 5
)

var replyStatNames = map[ReplyStat]string{
	Success:     "SUCCESS",
	ProgUnavail: "PROG_UNAVAIL",
	ProcUnavail: "PROC_UNAVAIL",
	GarbageArgs: "GARBAGE_ARGS",
	AuthError:   "AUTH_ERROR",
	SystemError: "SYSTEM_ERR",
}

func (s ReplyStat) String() string {
	if name, ok := replyStatNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STAT_%d", uint32(s))
}

// Error is a processing failure that maps to a specific reply stat.
type Error struct {
	Stat ReplyStat
	Err  error
}

// NewError formats a message into an *Error. %w verbs are honoured.
func NewError(stat ReplyStat, format string, args ...any) *Error {
	return &Error{Stat: stat, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Stat.String()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatFromError maps err to the stat a reply should carry.
func StatFromError(err error) ReplyStat {
	if err == nil {
		return Success
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Stat
	}
	if auth.IsAuthError(err) {
		return AuthError
	}
	return SystemError
}
