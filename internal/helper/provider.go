package helper

import (
	"fmt"
	"net/url"
	"strings"
)

// Provider describes where a reCAPTCHA flavour serves its script and where
// the script publishes its runtime object.
type Provider struct {
	Name string
	JS   string
	// Global is the dotted path of the runtime object on the page's global scope.
	Global string
	// Scored reports whether the provider accepts action-scored execution.
	Scored bool
}

// thanks to https://github.com/maxlerebourg/crowdsec-bouncer-traefik-plugin/blob/4708d76854c7ae95fa7313c46fbe21959be2fff1/pkg/captcha/captcha.go#L39-L55
// for the struct/idea
var providers = map[string]Provider{
	"recaptcha": {
		Name:   "recaptcha",
		JS:     "https://www.google.com/recaptcha/api.js",
		Global: "grecaptcha",
		Scored: true,
	},
	// same runtime, served from a host that is reachable where google.com is not
	"recaptcha-net": {
		Name:   "recaptcha-net",
		JS:     "https://www.recaptcha.net/recaptcha/api.js",
		Global: "grecaptcha",
		Scored: true,
	},
	"enterprise": {
		Name:   "enterprise",
		JS:     "https://www.google.com/recaptcha/enterprise.js",
		Global: "grecaptcha.enterprise",
		Scored: true,
	},
}

func LookupProvider(name string) (Provider, error) {
	p, ok := providers[strings.ToLower(name)]
	if !ok {
		return Provider{}, fmt.Errorf("invalid captcha provider: %s", name)
	}
	return p, nil
}

// ScriptID is the document id of the script tag for a challenge version.
func ScriptID(version string) string {
	return "recaptcha-script-" + version
}

// ScriptURL builds the provider script URL. The site key is only embedded for
// scored challenges, where the provider renders its badge on load.
func ScriptURL(base, siteKey, language string, scored bool) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("unable to parse script url %s: %w", base, err)
	}

	q := u.Query()
	if scored {
		q.Set("render", siteKey)
	}
	if language != "" {
		q.Set("hl", language)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
