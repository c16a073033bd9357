package errors

import (
	"fmt"
	"strings"
)

// Sentinels for errors.Is matching by phase and kind.
var (
	ErrLoad              = &Error{Phase: PhaseLoad, Kind: KindInvalidData}
	ErrDuplicateName     = &Error{Phase: PhaseHost, Kind: KindDuplicateName}
	ErrUnknownImport     = &Error{Phase: PhaseLinking, Kind: KindUnknownImport}
	ErrIncompatible      = &Error{Phase: PhaseLinking, Kind: KindIncompatible}
	ErrNameConflict      = &Error{Phase: PhaseLinking, Kind: KindNameConflict}
	ErrDataSegDoesNotFit = &Error{Phase: PhaseLinking, Kind: KindDataSegment}
	ErrElemSegDoesNotFit = &Error{Phase: PhaseLinking, Kind: KindElemSegment}
	ErrFuncTypeMismatch  = &Error{Phase: PhaseRuntime, Kind: KindFuncMismatch}
	ErrTrap              = &Error{Phase: PhaseRuntime, Kind: KindTrap}
	ErrHostFunc          = &Error{Phase: PhaseRuntime, Kind: KindHostFunc}
	ErrOutOfBounds       = &Error{Phase: PhaseRuntime, Kind: KindOutOfBounds}
	ErrReleased          = &Error{Phase: PhaseRuntime, Kind: KindReleased}
	ErrManifest          = &Error{Phase: PhaseConfig, Kind: KindManifest}
	ErrRegistration      = &Error{Phase: PhaseHost, Kind: KindRegistration}
)

// UnknownImport reports an import no registered instance provides.
func UnknownImport(module, name, detail string) *Error {
	return &Error{
		Phase:  PhaseLinking,
		Kind:   KindUnknownImport,
		Path:   []string{module, name},
		Detail: detail,
	}
}

// IncompatibleImport reports an import whose resolved export has the wrong kind or type.
func IncompatibleImport(module, name, want, got string) *Error {
	return &Error{
		Phase:    PhaseLinking,
		Kind:     KindIncompatible,
		Path:     []string{module, name},
		WasmType: want,
		Detail:   "resolved export is " + got,
	}
}

// NameConflict reports a store name that is already registered.
func NameConflict(name string) *Error {
	return &Error{
		Phase:  PhaseLinking,
		Kind:   KindNameConflict,
		Path:   []string{name},
		Detail: fmt.Sprintf("module %q already registered", name),
	}
}

// DataSegDoesNotFit reports an active data segment outside its memory.
func DataSegDoesNotFit(module string, index int, cause error) *Error {
	return &Error{
		Phase:  PhaseLinking,
		Kind:   KindDataSegment,
		Path:   []string{module},
		Detail: fmt.Sprintf("data segment %d does not fit", index),
		Value:  index,
		Cause:  cause,
	}
}

// ElemSegDoesNotFit reports an active element segment outside its table.
func ElemSegDoesNotFit(module string, index int, cause error) *Error {
	return &Error{
		Phase:  PhaseLinking,
		Kind:   KindElemSegment,
		Path:   []string{module},
		Detail: fmt.Sprintf("element segment %d does not fit", index),
		Value:  index,
		Cause:  cause,
	}
}

// DuplicateName reports a name bound twice in one import namespace.
func DuplicateName(namespace, name string) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindDuplicateName,
		Path:   []string{namespace, name},
		Detail: fmt.Sprintf("%q defined more than once", name),
	}
}

// FuncTypeMismatch reports call arguments that do not match the signature.
func FuncTypeMismatch(name, want, got string) *Error {
	return &Error{
		Phase:    PhaseRuntime,
		Kind:     KindFuncMismatch,
		Path:     []string{name},
		WasmType: want,
		Detail:   "called with " + got,
	}
}

// TrapKind names the engine-detected fault.
type TrapKind string

const (
	TrapUnknown           TrapKind = "unknown"
	TrapUnreachable       TrapKind = "unreachable"
	TrapMemoryOutOfBounds TrapKind = "memory_out_of_bounds"
	TrapTableOutOfBounds  TrapKind = "table_out_of_bounds"
	TrapDivideByZero      TrapKind = "integer_divide_by_zero"
	TrapIntegerOverflow   TrapKind = "integer_overflow"
	TrapInvalidConversion TrapKind = "invalid_conversion"
	TrapIndirectCall      TrapKind = "indirect_call_type_mismatch"
	TrapStackOverflow     TrapKind = "stack_overflow"
	TrapCanceled          TrapKind = "canceled"
	TrapDeadlineExceeded  TrapKind = "deadline_exceeded"
	TrapExit              TrapKind = "exit"
)

// Trap is an engine fault that aborted the current call.
type Trap struct {
	Cause    error
	Kind     TrapKind
	ExitCode uint32
}

func (t *Trap) Error() string {
	var b strings.Builder
	b.WriteString("[runtime] trap: ")
	b.WriteString(string(t.Kind))
	if t.Kind == TrapExit {
		fmt.Fprintf(&b, " (code %d)", t.ExitCode)
	}
	if t.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(t.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

func (t *Trap) Unwrap() error {
	return t.Cause
}

// Is matches ErrTrap and traps of the same kind.
func (t *Trap) Is(target error) bool {
	switch v := target.(type) {
	case *Error:
		return v.Phase == PhaseRuntime && v.Kind == KindTrap
	case *Trap:
		return v.Kind == t.Kind
	}
	return false
}

// HostFuncKind separates errors a host function chose to return from failures inside it.
type HostFuncKind uint8

const (
	HostUser HostFuncKind = iota
	HostRuntime
)

func (k HostFuncKind) String() string {
	if k == HostUser {
		return "user"
	}
	return "runtime"
}

// Runtime error codes produced by the embedding layer itself.
const (
	CodePanic     uint32 = 1
	CodeCanceled  uint32 = 2
	CodeBadResult uint32 = 3
	CodeNoCaller  uint32 = 4
	CodeBadArgs   uint32 = 5
)

// HostFuncError is the failure of a host function call.
type HostFuncError struct {
	Cause error
	Name  string
	Code  uint32
	Kind  HostFuncKind
}

// User creates a host error chosen by the host function.
func User(code uint32) *HostFuncError {
	return &HostFuncError{Kind: HostUser, Code: code}
}

// Runtime creates a host error raised by the embedding layer.
func Runtime(code uint32, cause error) *HostFuncError {
	return &HostFuncError{Kind: HostRuntime, Code: code, Cause: cause}
}

func (e *HostFuncError) Error() string {
	var b strings.Builder
	b.WriteString("[runtime] host_func")
	if e.Name != "" {
		b.WriteString(" at ")
		b.WriteString(e.Name)
	}
	fmt.Fprintf(&b, ": %s error %d", e.Kind, e.Code)
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

func (e *HostFuncError) Unwrap() error {
	return e.Cause
}

// Is matches ErrHostFunc and host errors with the same kind and code.
func (e *HostFuncError) Is(target error) bool {
	switch v := target.(type) {
	case *Error:
		return v.Phase == PhaseRuntime && v.Kind == KindHostFunc
	case *HostFuncError:
		return v.Kind == e.Kind && v.Code == e.Code
	}
	return false
}
