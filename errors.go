package recaptcha

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies failures surfaced to the hosting application.
type Kind int

const (
	// KindScriptLoad is fatal to initialization. The controller does not retry.
	KindScriptLoad Kind = iota + 1
	// KindRender is fatal to initialization.
	KindRender
	// KindExecution is recoverable; execute may be called again.
	KindExecution
	// KindTokenUnavailable means no token exists yet.
	KindTokenUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindScriptLoad:
		return "script load error"
	case KindRender:
		return "render error"
	case KindExecution:
		return "execution error"
	case KindTokenUnavailable:
		return "token unavailable"
	default:
		return "unknown error"
	}
}

// Error is the normalized form of every failure handed to the hosting
// application. Provider payloads never pass through raw.
type Error struct {
	Kind Kind
	// Code is the provider error code, when the payload carried a known one.
	Code    string
	Message string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("recaptcha: ")
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " (%s)", e.Code)
	}
	return b.String()
}

// Is matches the kind sentinels, so errors.Is(err, ErrExecution) holds for
// any execution error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

var (
	ErrScriptLoad       = &Error{Kind: KindScriptLoad}
	ErrRender           = &Error{Kind: KindRender}
	ErrExecution        = &Error{Kind: KindExecution}
	ErrTokenUnavailable = &Error{Kind: KindTokenUnavailable}

	// ErrDestroyed is returned by operations cut short by Destroy. It is never
	// handed to OnErrored.
	ErrDestroyed = errors.New("recaptcha: controller destroyed")
)

// providerCodes are the error codes the provider reports in callback and
// rejection payloads.
var providerCodes = map[string]string{
	"network-error":        "network error",
	"rate-limited":         "rate limited",
	"timeout-or-duplicate": "token expired or already used",
	"challenge-expired":    "challenge expired",
	"challenge-error":      "challenge failed",
	"invalid-site-key":     "invalid site key",
	"invalid-action":       "invalid action",
	"internal-error":       "provider internal error",
}

// normalize turns a provider-defined payload into an *Error of the given kind.
// Only a message is kept from the payload; fallback is used when the payload
// has none.
func normalize(payload any, kind Kind, fallback string) *Error {
	var msg string
	switch p := payload.(type) {
	case nil:
	case *Error:
		return p
	case error:
		var e *Error
		if errors.As(p, &e) {
			return e
		}
		msg = p.Error()
	case string:
		msg = p
	case map[string]any:
		code, _ := p["code"].(string)
		msg, _ = p["message"].(string)
		if desc, ok := providerCodes[code]; ok {
			if msg == "" {
				msg = desc
			}
			return &Error{Kind: kind, Code: code, Message: msg}
		}
		if msg == "" {
			msg = code
		}
	case fmt.Stringer:
		msg = p.String()
	}

	msg = strings.TrimSpace(msg)
	if desc, ok := providerCodes[msg]; ok {
		return &Error{Kind: kind, Code: msg, Message: desc}
	}
	if msg == "" {
		msg = fallback
	}
	return &Error{Kind: kind, Message: msg}
}
