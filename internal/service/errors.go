package service

import (
	"errors"
	"fmt"
)

// ErrorKind classifies service failures so callers can branch on cause.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindInvalidTransition
	KindTransient
	KindInvalid
	KindConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindTransient:
		return "transient"
	case KindInvalid:
		return "invalid"
	case KindConflict:
		return "conflict"
	}
	return "unknown"
}

// Error is a typed service failure. Compare with errors.Is against the sentinels below.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

// --- Error Definitions ---
var (
	ErrUserNotFound = &Error{Kind: KindNotFound, Msg: "user not found"}
	ErrPlanNotFound = &Error{Kind: KindNotFound, Msg: "plan not found"}

	ErrPlanTooShort      = &Error{Kind: KindInvalidTransition, Msg: "plan too short"}
	ErrPlanAlreadyActive = &Error{Kind: KindInvalidTransition, Msg: "identical plan already active"}
	ErrNoActivePlan      = &Error{Kind: KindInvalidTransition, Msg: "no active plan"}
	ErrAlreadyOnHold     = &Error{Kind: KindInvalidTransition, Msg: "already on hold"}
	ErrNotOnHold         = &Error{Kind: KindInvalidTransition, Msg: "not on hold"}

	ErrInvalidID   = &Error{Kind: KindInvalid, Msg: "invalid id"}
	ErrInvalidPlan = &Error{Kind: KindInvalid, Msg: "plan requires a name and a positive day count"}

	ErrPlanNameTaken    = &Error{Kind: KindConflict, Msg: "plan with this name already exists"}
	ErrPlanLengthLocked = &Error{Kind: KindConflict, Msg: "plan length cannot change once the plan is in use"}
)

// KindOf reports the kind of err. Untyped errors come from persistence or
// locking and are transient.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

func wrapf(err error, format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, err)...)
}
