package recaptcha

import (
	"sync"
)

// widgetRegistry owns the single widget a controller may render.
type widgetRegistry struct {
	mu        sync.Mutex
	attempted bool
	done      bool
	handle    WidgetID
	err       error
}

// render renders into surface at most once. Later calls return the first
// attempt's outcome without touching the runtime. alive, when set, is
// consulted right before the surface is styled and handed to the runtime.
func (r *widgetRegistry) render(rt Runtime, surface Surface, alive func() bool, style func(Styler), opts RenderOptions) (WidgetID, error) {
	r.mu.Lock()
	if r.attempted {
		defer r.mu.Unlock()
		if !r.done {
			return DefaultWidget, &Error{Kind: KindRender, Message: "render already in progress"}
		}
		return r.handle, r.err
	}
	r.attempted = true
	r.mu.Unlock()

	// the lock is not held here: the runtime may call back into the
	// controller before Render returns
	handle, err := renderInto(rt, surface, alive, style, opts)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = true
	r.handle, r.err = handle, err
	return handle, err
}

func renderInto(rt Runtime, surface Surface, alive func() bool, style func(Styler), opts RenderOptions) (handle WidgetID, err error) {
	if surface == nil || !surface.Attached() {
		return DefaultWidget, &Error{Kind: KindRender, Message: "surface is not attached to the document"}
	}
	if alive != nil && !alive() {
		return DefaultWidget, ErrDestroyed
	}
	if s, ok := surface.(Styler); ok && style != nil {
		style(s)
	}

	defer func() {
		if p := recover(); p != nil {
			handle, err = DefaultWidget, normalize(p, KindRender, "failed to render reCAPTCHA")
		}
	}()

	handle, err = rt.Render(surface, opts)
	if err != nil {
		return DefaultWidget, normalize(err, KindRender, "failed to render reCAPTCHA")
	}
	return handle, nil
}

// current returns the rendered handle, if any.
func (r *widgetRegistry) current() (WidgetID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.done || r.err != nil {
		return DefaultWidget, false
	}
	return r.handle, true
}
