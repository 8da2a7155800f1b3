package validate

import (
	"strings"
	"testing"
)

type bookingRequest struct {
	Start string `validate:"required"`
	Email string `validate:"omitempty,email"`
}

func TestStruct_FlattensFieldErrors(t *testing.T) {
	v := New()
	err := v.Struct(bookingRequest{Email: "nope"})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "Start must satisfy required") || !strings.Contains(msg, "Email must satisfy email") {
		t.Fatalf("unexpected message %q", msg)
	}
	if err := v.Struct(bookingRequest{Start: "2026-01-01T09:00:00Z"}); err != nil {
		t.Fatalf("valid struct rejected: %v", err)
	}
}
