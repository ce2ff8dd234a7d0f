// Package errors provides standardized error values for the kernel simulator.
// Every capacity or validation failure surfaced by the memory core is a
// *StandardError so that callers can match it with errors.Is against the
// exported sentinels while still getting the request context in the message.
package errors

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryMemory     ErrorCategory = "MEMORY"
	CategoryPaging     ErrorCategory = "PAGING"
	CategoryValidation ErrorCategory = "VALIDATION"
	CategoryState      ErrorCategory = "STATE"
	CategoryFormat     ErrorCategory = "FORMAT"
	CategorySync       ErrorCategory = "SYNC"
)

// Error codes.
const (
	CodeOutOfMemory        = "OUT_OF_MEMORY"
	CodeInvalidSize        = "INVALID_SIZE"
	CodeNotAllocated       = "NOT_ALLOCATED"
	CodeThrashing          = "THRASHING"
	CodeInvalidConfig      = "INVALID_CONFIG"
	CodeInvalidState       = "INVALID_STATE"
	CodeIncompatibleFormat = "INCOMPATIBLE_FORMAT"
	CodeBlocked            = "BLOCKED"
)

// Sentinels for errors.Is. Constructed errors match the sentinel with the
// same Code regardless of their message and context.
var (
	ErrOutOfMemory        = &StandardError{Category: CategoryMemory, Code: CodeOutOfMemory, Message: "out of memory"}
	ErrInvalidSize        = &StandardError{Category: CategoryValidation, Code: CodeInvalidSize, Message: "invalid size"}
	ErrNotAllocated       = &StandardError{Category: CategoryMemory, Code: CodeNotAllocated, Message: "address not allocated"}
	ErrThrashing          = &StandardError{Category: CategoryPaging, Code: CodeThrashing, Message: "no evictable frame"}
	ErrInvalidConfig      = &StandardError{Category: CategoryValidation, Code: CodeInvalidConfig, Message: "invalid configuration"}
	ErrInvalidState       = &StandardError{Category: CategoryState, Code: CodeInvalidState, Message: "inconsistent state"}
	ErrIncompatibleFormat = &StandardError{Category: CategoryFormat, Code: CodeIncompatibleFormat, Message: "incompatible format"}
	ErrBlocked            = &StandardError{Category: CategorySync, Code: CodeBlocked, Message: "process blocked"}
)

// StandardError provides a consistent error format
type StandardError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Context  map[string]interface{}
	Caller   string
}

// Error implements the error interface
func (e *StandardError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s:%s] %s", e.Category, e.Code, e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteString(")")
	}
	return b.String()
}

// Is reports whether target is a *StandardError with the same code.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewStandardError creates a new standardized error
func NewStandardError(category ErrorCategory, code, message string, context map[string]interface{}) *StandardError {
	pc, _, _, ok := runtime.Caller(1)
	caller := "unknown"
	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}

	return &StandardError{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  context,
		Caller:   caller,
	}
}

// Common error constructors

func OutOfMemory(requested, largestFree uint64) *StandardError {
	return NewStandardError(CategoryMemory, CodeOutOfMemory,
		fmt.Sprintf("no free block of %d bytes", requested),
		map[string]interface{}{"requested": requested, "largest_free": largestFree})
}

func InvalidSize(size, capacity uint64) *StandardError {
	return NewStandardError(CategoryValidation, CodeInvalidSize,
		fmt.Sprintf("invalid size %d for capacity %d", size, capacity),
		map[string]interface{}{"size": size, "capacity": capacity})
}

func NotAllocated(address uint64) *StandardError {
	return NewStandardError(CategoryMemory, CodeNotAllocated,
		fmt.Sprintf("no allocation at address 0x%x", address),
		map[string]interface{}{"address": address})
}

func Thrashing(pid, page int, window uint64) *StandardError {
	return NewStandardError(CategoryPaging, CodeThrashing,
		fmt.Sprintf("no frame outside working-set window %d", window),
		map[string]interface{}{"pid": pid, "page": page, "window": window})
}

func InvalidConfig(field, reason string) *StandardError {
	return NewStandardError(CategoryValidation, CodeInvalidConfig,
		fmt.Sprintf("%s: %s", field, reason),
		map[string]interface{}{"field": field})
}

func InvalidState(format string, args ...interface{}) *StandardError {
	return NewStandardError(CategoryState, CodeInvalidState, fmt.Sprintf(format, args...), nil)
}

func IncompatibleFormat(version, constraint string) *StandardError {
	return NewStandardError(CategoryFormat, CodeIncompatibleFormat,
		fmt.Sprintf("format version %q does not satisfy %q", version, constraint),
		map[string]interface{}{"version": version, "constraint": constraint})
}

func Blocked(pid int, semaphore string) *StandardError {
	return NewStandardError(CategorySync, CodeBlocked,
		fmt.Sprintf("process %d blocked on %s", pid, semaphore),
		map[string]interface{}{"pid": pid, "semaphore": semaphore})
}
