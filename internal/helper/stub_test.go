package helper

import (
	"strings"
	"testing"
)

func TestStubProviderJS(t *testing.T) {
	src := StubProviderJS()

	if src == "" {
		t.Fatal("StubProviderJS returned empty string")
	}

	expectedElements := []string{
		"g.grecaptcha = api",
		"api.enterprise = api",
		"ready: function(cb)",
		"render: function(container, params)",
		"execute: function(target, options)",
		"reset: function(id)",
		"getResponse: function(id)",
		"__recaptchaStub",
		"expired-callback",
		"error-callback",
	}

	for _, elem := range expectedElements {
		if !strings.Contains(src, elem) {
			t.Errorf("Stub missing expected element: %s", elem)
		}
	}

	if !strings.HasSuffix(strings.TrimSpace(src), "})(this);") {
		t.Error("Stub should be a single immediately invoked function")
	}
}
