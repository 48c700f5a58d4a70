package captchatest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	recaptcha "github.com/libops/recaptcha-widget"
)

// RenderCall records one Render invocation.
type RenderCall struct {
	Surface string
	Options recaptcha.RenderOptions
	Widget  recaptcha.WidgetID
}

// ExecuteCall records one Execute invocation.
type ExecuteCall struct {
	SiteKey string
	Action  string
}

// Runtime is a scripted provider runtime. By default it reports ready
// synchronously, renders widgets with increasing ids, and resolves scored
// executions with "token-<n>".
type Runtime struct {
	// ManualReady holds ready callbacks until FireReady.
	ManualReady bool
	// ReadyErr rejects every ready registration.
	ReadyErr error
	// RenderErr is returned by Render when set; RenderPanic is raised.
	RenderErr   error
	RenderPanic any
	// ExecuteFunc replaces the default scored execution.
	ExecuteFunc func(ctx context.Context, siteKey string, opts recaptcha.ExecuteOptions) (string, error)

	mu        sync.Mutex
	readyFns  []func()
	fired     bool
	renders   []RenderCall
	executes  []ExecuteCall
	resets    []recaptcha.WidgetID
	responses map[recaptcha.WidgetID]string
	calls     int
}

func NewRuntime() *Runtime {
	return &Runtime{responses: make(map[recaptcha.WidgetID]string)}
}

func (r *Runtime) Ready(fn func()) error {
	if r.ReadyErr != nil {
		return r.ReadyErr
	}

	r.mu.Lock()
	r.readyFns = append(r.readyFns, fn)
	now := !r.ManualReady || r.fired
	r.mu.Unlock()

	if now {
		fn()
	}
	return nil
}

// FireReady invokes every registered ready callback. Calling it again fires
// them again, as a misbehaving runtime might.
func (r *Runtime) FireReady() {
	r.mu.Lock()
	r.fired = true
	fns := append([]func(){}, r.readyFns...)
	r.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// ReadyRegistrations returns how many callbacks were passed to Ready.
func (r *Runtime) ReadyRegistrations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.readyFns)
}

func (r *Runtime) Render(surface recaptcha.Surface, opts recaptcha.RenderOptions) (recaptcha.WidgetID, error) {
	if r.RenderPanic != nil {
		panic(r.RenderPanic)
	}
	if r.RenderErr != nil {
		return recaptcha.DefaultWidget, r.RenderErr
	}
	if opts.SiteKey == "" {
		return recaptcha.DefaultWidget, errors.New("Missing required parameters: sitekey")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	id := recaptcha.WidgetID(len(r.renders))
	r.renders = append(r.renders, RenderCall{Surface: surface.ID(), Options: opts, Widget: id})
	return id, nil
}

func (r *Runtime) Execute(ctx context.Context, siteKey string, opts recaptcha.ExecuteOptions) (string, error) {
	r.mu.Lock()
	r.executes = append(r.executes, ExecuteCall{SiteKey: siteKey, Action: opts.Action})
	r.calls++
	n := r.calls
	fn := r.ExecuteFunc
	r.mu.Unlock()

	if fn != nil {
		return fn(ctx, siteKey, opts)
	}
	return fmt.Sprintf("token-%d", n), nil
}

func (r *Runtime) Reset(id recaptcha.WidgetID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.widget(id); err != nil {
		return err
	}
	r.resets = append(r.resets, id)
	delete(r.responses, r.resolve(id))
	return nil
}

func (r *Runtime) GetResponse(id recaptcha.WidgetID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.widget(id); err != nil {
		return "", err
	}
	return r.responses[r.resolve(id)], nil
}

// resolve maps DefaultWidget to the first widget.
func (r *Runtime) resolve(id recaptcha.WidgetID) recaptcha.WidgetID {
	if id == recaptcha.DefaultWidget {
		return 0
	}
	return id
}

// widget looks up a rendered widget. r.mu must be held.
func (r *Runtime) widget(id recaptcha.WidgetID) (RenderCall, error) {
	id = r.resolve(id)
	if int(id) < 0 || int(id) >= len(r.renders) {
		return RenderCall{}, errors.New("Invalid reCAPTCHA client id: " + fmt.Sprint(int(id)))
	}
	return r.renders[id], nil
}

// Solve simulates the user completing the challenge of widget id.
func (r *Runtime) Solve(id recaptcha.WidgetID, token string) error {
	r.mu.Lock()
	call, err := r.widget(id)
	if err == nil {
		r.responses[r.resolve(id)] = token
	}
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if call.Options.Callback != nil {
		call.Options.Callback(token)
	}
	return nil
}

// Expire simulates the response of widget id expiring.
func (r *Runtime) Expire(id recaptcha.WidgetID) error {
	r.mu.Lock()
	call, err := r.widget(id)
	if err == nil {
		delete(r.responses, r.resolve(id))
	}
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if call.Options.ExpiredCallback != nil {
		call.Options.ExpiredCallback()
	}
	return nil
}

// Fail delivers payload to the error callback of widget id.
func (r *Runtime) Fail(id recaptcha.WidgetID, payload any) error {
	r.mu.Lock()
	call, err := r.widget(id)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if call.Options.ErrorCallback != nil {
		call.Options.ErrorCallback(payload)
	}
	return nil
}

func (r *Runtime) Renders() []RenderCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RenderCall(nil), r.renders...)
}

func (r *Runtime) Executes() []ExecuteCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ExecuteCall(nil), r.executes...)
}

func (r *Runtime) Resets() []recaptcha.WidgetID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recaptcha.WidgetID(nil), r.resets...)
}
