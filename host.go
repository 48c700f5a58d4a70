package recaptcha

import (
	"context"

	"github.com/libops/recaptcha-widget/internal/loader"
)

type (
	// ScriptTag is a script element appended to the document head.
	ScriptTag = loader.Tag
	// Document is the page the provider script is injected into.
	Document = loader.Document
)

// WidgetID is the opaque handle the runtime returns from Render.
type WidgetID int

// DefaultWidget is the handle of no rendered widget. Runtimes treat it as
// their implicit widget; the controller never reads a response through it.
const DefaultWidget WidgetID = -1

// Surface is the host-owned element a widget is rendered into.
type Surface interface {
	ID() string
	// Attached reports whether the element is currently in the document.
	Attached() bool
}

// Styler is implemented by surfaces that accept the configured class name
// and inline style. They are applied once, right before render.
type Styler interface {
	ApplyStyle(className string, style map[string]string)
}

type RenderOptions struct {
	SiteKey  string
	Theme    Theme
	Type     ChallengeType
	Size     Size
	TabIndex int
	Badge    Badge
	Isolated bool

	Callback        func(token string)
	ExpiredCallback func()
	// ErrorCallback receives whatever the provider reports; its shape is not
	// guaranteed.
	ErrorCallback func(payload any)
}

type ExecuteOptions struct {
	Action string
}

// Runtime is the provider's script-side API once its script has run.
type Runtime interface {
	// Ready registers fn to run once the runtime is usable. fn may run before
	// Ready returns, and may run more than once. An error means fn will never
	// run.
	Ready(fn func()) error
	Render(surface Surface, opts RenderOptions) (WidgetID, error)
	// Execute resolves a scored token for siteKey. The error carries the
	// provider's rejection payload.
	Execute(ctx context.Context, siteKey string, opts ExecuteOptions) (string, error)
	Reset(id WidgetID) error
	// GetResponse returns the widget's stored token, "" when the user has not
	// completed the challenge.
	GetResponse(id WidgetID) (string, error)
}

// Host is the environment a controller is mounted in.
type Host interface {
	Document
	// Runtime returns the provider runtime, or nil while none is present.
	Runtime() Runtime
}
