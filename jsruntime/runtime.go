package jsruntime

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"

	recaptcha "github.com/libops/recaptcha-widget"
)

// ScriptError carries a value thrown or rejected by the script.
type ScriptError struct {
	// Payload is the exported value: a string, a map for objects, or nil.
	Payload any
}

func (e *ScriptError) Error() string {
	switch p := e.Payload.(type) {
	case nil:
		return "script error"
	case string:
		return p
	case map[string]any:
		if code, ok := p["code"].(string); ok && code != "" {
			return code
		}
		if msg, ok := p["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return fmt.Sprint(e.Payload)
}

func toError(err error) error {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return &ScriptError{Payload: exportPayload(ex.Value())}
	}
	return err
}

// exportPayload keeps the message and code of thrown Error objects, which
// Export would drop as non-enumerable.
func exportPayload(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	if obj, ok := v.(*goja.Object); ok {
		msg := obj.Get("message")
		if msg != nil && !goja.IsUndefined(msg) {
			out := map[string]any{"message": msg.String()}
			if code := obj.Get("code"); code != nil && !goja.IsUndefined(code) {
				out["code"] = code.String()
			}
			return out
		}
	}
	return v.Export()
}

// Runtime drives the script's runtime object.
type Runtime struct {
	host *Host
}

// invoke calls method on the runtime object. h.mu must be held.
func (r *Runtime) invoke(vm *goja.Runtime, method string, args ...goja.Value) (goja.Value, error) {
	api, err := r.host.api(vm)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(api.Get(method))
	if !ok {
		return nil, fmt.Errorf("%s is not a function", method)
	}
	v, err := fn(api, args...)
	if err != nil {
		return nil, toError(err)
	}
	return v, nil
}

// widget addresses id, leaving the argument undefined for the implicit widget.
func widget(vm *goja.Runtime, id recaptcha.WidgetID) goja.Value {
	if id == recaptcha.DefaultWidget {
		return goja.Undefined()
	}
	return vm.ToValue(int(id))
}

func (r *Runtime) Ready(fn func()) error {
	h := r.host
	return h.call(func(vm *goja.Runtime) error {
		cb := vm.ToValue(func(goja.FunctionCall) goja.Value {
			h.schedule(fn)
			return goja.Undefined()
		})
		_, err := r.invoke(vm, "ready", cb)
		return err
	})
}

func (r *Runtime) Render(surface recaptcha.Surface, opts recaptcha.RenderOptions) (recaptcha.WidgetID, error) {
	h := r.host
	id := recaptcha.DefaultWidget
	err := h.call(func(vm *goja.Runtime) error {
		params := vm.NewObject()
		params.Set("sitekey", opts.SiteKey)
		params.Set("theme", string(opts.Theme))
		params.Set("type", string(opts.Type))
		params.Set("size", string(opts.Size))
		params.Set("tabindex", opts.TabIndex)
		params.Set("badge", string(opts.Badge))
		params.Set("isolated", opts.Isolated)
		if opts.Callback != nil {
			params.Set("callback", func(call goja.FunctionCall) goja.Value {
				token := call.Argument(0).String()
				h.schedule(func() { opts.Callback(token) })
				return goja.Undefined()
			})
		}
		if opts.ExpiredCallback != nil {
			params.Set("expired-callback", func(goja.FunctionCall) goja.Value {
				h.schedule(opts.ExpiredCallback)
				return goja.Undefined()
			})
		}
		if opts.ErrorCallback != nil {
			params.Set("error-callback", func(call goja.FunctionCall) goja.Value {
				payload := exportPayload(call.Argument(0))
				h.schedule(func() { opts.ErrorCallback(payload) })
				return goja.Undefined()
			})
		}

		v, err := r.invoke(vm, "render", vm.ToValue(surface.ID()), params)
		if err != nil {
			return err
		}
		id = recaptcha.WidgetID(v.ToInteger())
		return nil
	})
	if err != nil {
		return recaptcha.DefaultWidget, err
	}
	return id, nil
}

type settlement struct {
	token string
	err   error
}

// Execute calls execute(siteKey, {action}) and waits for the returned
// promise, or ctx.
func (r *Runtime) Execute(ctx context.Context, siteKey string, opts recaptcha.ExecuteOptions) (string, error) {
	h := r.host
	settled := make(chan settlement, 1)
	err := h.call(func(vm *goja.Runtime) error {
		options := vm.NewObject()
		options.Set("action", opts.Action)
		v, err := r.invoke(vm, "execute", vm.ToValue(siteKey), options)
		if err != nil {
			return err
		}

		p, ok := v.Export().(*goja.Promise)
		if !ok {
			settled <- settlement{token: v.String()}
			return nil
		}
		switch p.State() {
		case goja.PromiseStateFulfilled:
			settled <- settlement{token: p.Result().String()}
			return nil
		case goja.PromiseStateRejected:
			settled <- settlement{err: &ScriptError{Payload: exportPayload(p.Result())}}
			return nil
		}

		obj := v.ToObject(vm)
		then, ok := goja.AssertFunction(obj.Get("then"))
		if !ok {
			return errors.New("execute returned a promise without then")
		}
		_, err = then(obj,
			vm.ToValue(func(call goja.FunctionCall) goja.Value {
				settled <- settlement{token: call.Argument(0).String()}
				return goja.Undefined()
			}),
			vm.ToValue(func(call goja.FunctionCall) goja.Value {
				settled <- settlement{err: &ScriptError{Payload: exportPayload(call.Argument(0))}}
				return goja.Undefined()
			}),
		)
		return err
	})
	if err != nil {
		return "", err
	}

	select {
	case s := <-settled:
		return s.token, s.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Runtime) Reset(id recaptcha.WidgetID) error {
	return r.host.call(func(vm *goja.Runtime) error {
		_, err := r.invoke(vm, "reset", widget(vm, id))
		return err
	})
}

func (r *Runtime) GetResponse(id recaptcha.WidgetID) (string, error) {
	var token string
	err := r.host.call(func(vm *goja.Runtime) error {
		v, err := r.invoke(vm, "getResponse", widget(vm, id))
		if err != nil {
			return err
		}
		if !goja.IsUndefined(v) && !goja.IsNull(v) {
			token = v.String()
		}
		return nil
	})
	return token, err
}
