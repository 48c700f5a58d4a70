package recaptcha

import (
	"errors"
	"fmt"
	"testing"
)

type label string

func (l label) String() string { return string(l) }

func TestNormalize(t *testing.T) {
	existing := &Error{Kind: KindRender, Message: "already normalized"}

	tests := []struct {
		name    string
		payload any
		kind    Kind
		want    Error
	}{
		{
			name:    "nil uses fallback",
			payload: nil,
			kind:    KindExecution,
			want:    Error{Kind: KindExecution, Message: "fallback"},
		},
		{
			name:    "plain string",
			payload: "something broke",
			kind:    KindExecution,
			want:    Error{Kind: KindExecution, Message: "something broke"},
		},
		{
			name:    "known code as string",
			payload: "network-error",
			kind:    KindExecution,
			want:    Error{Kind: KindExecution, Code: "network-error", Message: "network error"},
		},
		{
			name:    "error value",
			payload: errors.New("rate-limited"),
			kind:    KindExecution,
			want:    Error{Kind: KindExecution, Code: "rate-limited", Message: "rate limited"},
		},
		{
			name:    "map with known code and message",
			payload: map[string]any{"code": "invalid-site-key", "message": "key not found"},
			kind:    KindRender,
			want:    Error{Kind: KindRender, Code: "invalid-site-key", Message: "key not found"},
		},
		{
			name:    "map with unknown code",
			payload: map[string]any{"code": "mystery"},
			kind:    KindExecution,
			want:    Error{Kind: KindExecution, Message: "mystery"},
		},
		{
			name:    "map with message only",
			payload: map[string]any{"message": "  spaced  "},
			kind:    KindExecution,
			want:    Error{Kind: KindExecution, Message: "spaced"},
		},
		{
			name:    "stringer",
			payload: label("timeout-or-duplicate"),
			kind:    KindExecution,
			want:    Error{Kind: KindExecution, Code: "timeout-or-duplicate", Message: "token expired or already used"},
		},
		{
			name:    "unsupported shape",
			payload: 42,
			kind:    KindScriptLoad,
			want:    Error{Kind: KindScriptLoad, Message: "fallback"},
		},
		{
			name:    "existing error kept",
			payload: fmt.Errorf("wrapped: %w", existing),
			kind:    KindExecution,
			want:    *existing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalize(tt.payload, tt.kind, "fallback")
			if *got != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, *got)
			}
		})
	}
}

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("outer: %w", &Error{Kind: KindExecution, Code: "network-error", Message: "network error"})

	if !errors.Is(err, ErrExecution) {
		t.Error("Expected execution error to match ErrExecution")
	}
	if errors.Is(err, ErrRender) {
		t.Error("Execution error matched ErrRender")
	}
	if !errors.Is(err, &Error{Kind: KindExecution, Code: "network-error"}) {
		t.Error("Expected a code sentinel to match")
	}
	if errors.Is(err, &Error{Kind: KindExecution, Code: "rate-limited"}) {
		t.Error("Matched a different code")
	}
	if errors.Is(ErrDestroyed, ErrExecution) {
		t.Error("ErrDestroyed matched a kind sentinel")
	}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{&Error{Kind: KindScriptLoad, Message: "404"}, "recaptcha: script load error: 404"},
		{&Error{Kind: KindExecution, Code: "rate-limited", Message: "rate limited"}, "recaptcha: execution error: rate limited (rate-limited)"},
		{ErrTokenUnavailable, "recaptcha: token unavailable"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}
