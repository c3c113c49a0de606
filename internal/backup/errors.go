package backup

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error produced by the pipeline matches exactly one of
// these with errors.Is.
var (
	ErrConfig   = errors.New("configuration error")
	ErrNotFound = errors.New("not found")
	ErrIO       = errors.New("i/o error")
	ErrCrypto   = errors.New("crypto error")
	ErrNotify   = errors.New("notification error")
)

// Error describes a pipeline failure: its kind, the state the run was in,
// and the source being processed when it happened (if any).
type Error struct {
	Kind   error
	State  State
	Source string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	if e.State != StateIdle {
		b.WriteString(e.State.String())
		b.WriteString(": ")
	}
	if e.Source != "" {
		b.WriteString(e.Source)
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else {
		b.WriteString(e.Kind.Error())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError builds an Error of the given kind. State is filled in by the
// orchestrator when the error leaves a pipeline stage.
func NewError(kind error, source, msg string, err error) *Error {
	return &Error{Kind: kind, Source: source, Msg: msg, Err: err}
}

func configErrorf(format string, args ...any) error {
	return &Error{Kind: ErrConfig, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the error kind of err, or nil if err carries none.
func KindOf(err error) error {
	for _, kind := range []error{ErrConfig, ErrNotFound, ErrIO, ErrCrypto, ErrNotify} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// StageError collects per-source failures from one staging pass. Siblings of a
// failing source still run; the failures are reported together afterwards.
type StageError struct {
	Failures []*Error
}

func (e *StageError) Error() string {
	if len(e.Failures) == 1 {
		return e.Failures[0].Error()
	}
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%d sources failed: %s", len(e.Failures), strings.Join(msgs, "; "))
}

func (e *StageError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// withState returns err as an *Error stamped with state. Errors without a
// kind are treated as I/O faults.
func withState(err error, state State) *Error {
	var stageErr *StageError
	if errors.As(err, &stageErr) && len(stageErr.Failures) > 0 {
		first := stageErr.Failures[0]
		msg := first.Msg
		if len(stageErr.Failures) > 1 {
			msg = fmt.Sprintf("%s (and %d more)", first.Msg, len(stageErr.Failures)-1)
		}
		return &Error{Kind: first.Kind, State: state, Source: first.Source, Msg: msg, Err: first.Err}
	}

	var be *Error
	if errors.As(err, &be) {
		out := *be
		out.State = state
		return &out
	}

	kind := KindOf(err)
	if kind == nil {
		kind = ErrIO
	}
	return &Error{Kind: kind, State: state, Err: err}
}
