package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name    string
		err     *Error
		kind    Kind
		message string
	}{
		{"NotFound", NotFound("box not found"), ErrNotFound, "box not found"},
		{"NotFoundf", NotFoundf("box %d not found", 3), ErrNotFound, "box 3 not found"},
		{"Validation", Validation("bad roster"), ErrValidation, "bad roster"},
		{"Validationf", Validationf("route %d missing", 2), ErrValidation, "route 2 missing"},
		{"Conflict", Conflict("box exists"), ErrConflict, "box exists"},
		{"InvalidInput", InvalidInput("bad delta"), ErrInvalidInput, "bad delta"},
		{"InvalidInputf", InvalidInputf("bad delta %v", 0.5), ErrInvalidInput, "bad delta 0.5"},
		{"StaleToken", StaleToken(1, 2), ErrStaleToken, "stale session token 1 (current 2)"},
		{"Guardf", Guardf("timer is %s", "idle"), ErrGuard, "timer is idle"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("expected kind %v, got %v", tt.kind, tt.err.Kind)
			}
			if tt.err.Message != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, tt.err.Message)
			}
			if tt.err.Error() != tt.message {
				t.Errorf("expected Error() %q, got %q", tt.message, tt.err.Error())
			}
		})
	}
}

func TestInternal_WrapsUnderlying(t *testing.T) {
	underlying := fmt.Errorf("disk full")
	err := Internal(underlying)

	if err.Kind != ErrInternal {
		t.Errorf("expected ErrInternal, got %v", err.Kind)
	}
	if err.Error() != "internal error: disk full" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, underlying) {
		t.Error("expected errors.Is to find the underlying error")
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("apply: %w", Guardf("not running"))

	if got := KindOf(wrapped); got != ErrGuard {
		t.Errorf("expected ErrGuard through wrapping, got %v", got)
	}
	if got := KindOf(fmt.Errorf("plain")); got != ErrInternal {
		t.Errorf("expected ErrInternal for plain errors, got %v", got)
	}
	if !IsKind(StaleToken(1, 2), ErrStaleToken) {
		t.Error("expected IsKind to match stale token")
	}
	if IsKind(nil, ErrInternal) {
		t.Error("expected IsKind(nil) to be false")
	}
}

func TestKind_String(t *testing.T) {
	if ErrStaleToken.String() != "stale_token" {
		t.Errorf("unexpected %q", ErrStaleToken.String())
	}
	if Kind(99).String() != "internal" {
		t.Errorf("unknown kinds should print as internal, got %q", Kind(99).String())
	}
}

func TestWrap(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(base, ErrConflict, "saving results")
	if err.Error() != "saving results: boom" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if errors.Unwrap(err) != base {
		t.Error("expected Unwrap to return base error")
	}
}
