package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestStandardErrorIs(t *testing.T) {
	specs := []struct {
		err      error
		sentinel error
	}{
		{OutOfMemory(128, 64), ErrOutOfMemory},
		{InvalidSize(0, 1024), ErrInvalidSize},
		{NotAllocated(0x40), ErrNotAllocated},
		{Thrashing(1, 3, 5), ErrThrashing},
		{InvalidConfig("frames", "must be positive"), ErrInvalidConfig},
		{InvalidState("frame %d lost", 2), ErrInvalidState},
		{IncompatibleFormat("2.0.0", "< 2.0.0"), ErrIncompatibleFormat},
		{Blocked(3, "empty"), ErrBlocked},
	}

	for _, spec := range specs {
		if !stderrors.Is(spec.err, spec.sentinel) {
			t.Errorf("%v: expected to match %v", spec.err, spec.sentinel)
		}
		wrapped := fmt.Errorf("context: %w", spec.err)
		if !stderrors.Is(wrapped, spec.sentinel) {
			t.Errorf("%v: expected wrapped error to match", spec.err)
		}
	}

	if stderrors.Is(OutOfMemory(1, 0), ErrInvalidSize) {
		t.Error("different codes must not match")
	}
	if stderrors.Is(stderrors.New("out of memory"), ErrOutOfMemory) {
		t.Error("plain errors must not match")
	}
}

func TestStandardErrorMessage(t *testing.T) {
	err := OutOfMemory(256, 128)
	msg := err.Error()

	if !strings.HasPrefix(msg, "[MEMORY:OUT_OF_MEMORY] no free block of 256 bytes") {
		t.Fatalf("unexpected message %q", msg)
	}
	if !strings.HasSuffix(msg, "(largest_free=128, requested=256)") {
		t.Fatalf("expected sorted context in %q", msg)
	}

	if got := InvalidState("broken").Error(); got != "[STATE:INVALID_STATE] broken" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestNewStandardErrorCaller(t *testing.T) {
	err := NewStandardError(CategoryMemory, CodeOutOfMemory, "x", nil)
	if !strings.HasSuffix(err.Caller, "TestNewStandardErrorCaller") {
		t.Fatalf("expected caller to name the test; got %q", err.Caller)
	}
}
