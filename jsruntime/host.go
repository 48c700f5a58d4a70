// Package jsruntime hosts a provider script in an embedded JavaScript VM.
//
// A Host is both the document the script tag is appended to and the bridge to
// the runtime object the script publishes, so a recaptcha.Controller can be
// driven end to end without a browser.
package jsruntime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	recaptcha "github.com/libops/recaptcha-widget"
	"github.com/libops/recaptcha-widget/internal/helper"
	"github.com/libops/recaptcha-widget/internal/log"
)

// Fetcher returns the source a script tag's src points at.
type Fetcher interface {
	Fetch(ctx context.Context, src string) (string, error)
}

type FetcherFunc func(ctx context.Context, src string) (string, error)

func (f FetcherFunc) Fetch(ctx context.Context, src string) (string, error) {
	return f(ctx, src)
}

// HTTPFetcher downloads scripts over HTTP.
type HTTPFetcher struct {
	Client *http.Client
	Log    *slog.Logger
}

func (f HTTPFetcher) Fetch(ctx context.Context, src string) (string, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := f.Log
	if logger == nil {
		logger = log.Discard()
	}
	return helper.FetchScript(ctx, logger, client, src)
}

// Static serves source for every src.
func Static(source string) Fetcher {
	return FetcherFunc(func(context.Context, string) (string, error) {
		return source, nil
	})
}

// Stub serves a stand-in provider runtime, with __recaptchaStub hooks for
// solving, expiring and failing widgets from Eval.
func Stub() Fetcher {
	return Static(helper.StubProviderJS())
}

type Option func(*Host)

// WithGlobal sets the dotted path of the runtime object, "grecaptcha" by default.
func WithGlobal(path string) Option {
	return func(h *Host) {
		h.global = strings.Split(path, ".")
	}
}

// WithProvider looks up the runtime object of a provider by name.
func WithProvider(name string) Option {
	return func(h *Host) {
		if p, err := helper.LookupProvider(name); err == nil {
			h.global = strings.Split(p.Global, ".")
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Host) {
		h.log = l
	}
}

// WithEvalTimeout bounds every entry into the VM.
func WithEvalTimeout(d time.Duration) Option {
	return func(h *Host) {
		h.timeout = d
	}
}

type Host struct {
	fetcher Fetcher
	global  []string
	log     *slog.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	vm      *goja.Runtime
	scripts map[string]recaptcha.ScriptTag
	pending []func()
}

func New(fetcher Fetcher, opts ...Option) *Host {
	h := &Host{
		fetcher: fetcher,
		global:  []string{"grecaptcha"},
		timeout: 10 * time.Second,
		vm:      goja.New(),
		scripts: make(map[string]recaptcha.ScriptTag),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = log.Discard()
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())

	g := h.vm.GlobalObject()
	h.vm.Set("window", g)
	h.vm.Set("self", g)
	console := h.vm.NewObject()
	console.Set("log", func(call goja.FunctionCall) goja.Value {
		h.log.Debug("console.log", "args", fmt.Sprint(exportArgs(call.Arguments)...))
		return goja.Undefined()
	})
	console.Set("error", func(call goja.FunctionCall) goja.Value {
		h.log.Warn("console.error", "args", fmt.Sprint(exportArgs(call.Arguments)...))
		return goja.Undefined()
	})
	h.vm.Set("console", console)

	return h
}

// Close stops outstanding fetches. Pending tags never fire.
func (h *Host) Close() {
	h.cancel()
}

func (h *Host) HasScript(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.scripts[id]
	return ok
}

func (h *Host) AppendScript(tag recaptcha.ScriptTag) error {
	if tag.ID == "" {
		return errors.New("script tag without id")
	}

	h.mu.Lock()
	if _, ok := h.scripts[tag.ID]; ok {
		h.mu.Unlock()
		return fmt.Errorf("duplicate script id %s", tag.ID)
	}
	h.scripts[tag.ID] = tag
	h.mu.Unlock()

	go h.load(tag)
	return nil
}

func (h *Host) RemoveScript(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.scripts, id)
}

func (h *Host) present(tag recaptcha.ScriptTag) bool {
	_, ok := h.scripts[tag.ID]
	return ok
}

// load fetches and evaluates tag, then fires its load or error event. A tag
// removed before evaluation is dropped silently.
func (h *Host) load(tag recaptcha.ScriptTag) {
	src, err := h.fetcher.Fetch(h.ctx, tag.Src)
	if err != nil {
		if h.ctx.Err() != nil || !h.HasScript(tag.ID) {
			return
		}
		h.log.Error("Unable to fetch script", "id", tag.ID, "src", tag.Src, "err", err)
		if tag.OnError != nil {
			tag.OnError(err)
		}
		return
	}

	evaluated := false
	err = h.call(func(vm *goja.Runtime) error {
		if !h.present(tag) {
			return nil
		}
		evaluated = true
		_, err := vm.RunScript(tag.ID, src)
		return err
	})
	if !evaluated {
		h.log.Debug("Script removed before evaluation", "id", tag.ID)
		return
	}
	if err != nil {
		err = fmt.Errorf("evaluate %s: %w", tag.ID, toError(err))
		h.log.Error("Script failed", "id", tag.ID, "err", err)
		if tag.OnError != nil {
			tag.OnError(err)
		}
		return
	}

	h.log.Debug("Script evaluated", "id", tag.ID)
	if tag.OnLoad != nil {
		tag.OnLoad()
	}
}

// Runtime returns the bridge to the runtime object, or nil until a script
// has published it.
func (h *Host) Runtime() recaptcha.Runtime {
	var found bool
	_ = h.call(func(vm *goja.Runtime) error {
		_, err := h.api(vm)
		found = err == nil
		return nil
	})
	if !found {
		return nil
	}
	return &Runtime{host: h}
}

// Eval runs source in the VM and returns its exported result. Callbacks the
// source triggers run before Eval returns.
func (h *Host) Eval(source string) (any, error) {
	var out any
	err := h.call(func(vm *goja.Runtime) error {
		v, err := vm.RunString(source)
		if err != nil {
			return toError(err)
		}
		out = v.Export()
		return nil
	})
	return out, err
}

// call runs fn with exclusive use of the VM. Go callbacks scheduled by the
// script while fn runs are invoked after the VM is released.
func (h *Host) call(fn func(vm *goja.Runtime) error) error {
	h.mu.Lock()
	var timer *time.Timer
	if h.timeout > 0 {
		vm := h.vm
		timer = time.AfterFunc(h.timeout, func() {
			vm.Interrupt("execution timeout")
		})
	}

	err := fn(h.vm)

	if timer != nil && !timer.Stop() {
		h.vm.ClearInterrupt()
	}
	pending := h.pending
	h.pending = nil
	h.mu.Unlock()

	for _, p := range pending {
		p()
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("script execution timed out after %s", h.timeout)
	}
	return err
}

// schedule queues fn to run once the VM is released. h.mu must be held.
func (h *Host) schedule(fn func()) {
	h.pending = append(h.pending, fn)
}

// api resolves the runtime object. h.mu must be held.
func (h *Host) api(vm *goja.Runtime) (*goja.Object, error) {
	obj := vm.GlobalObject()
	for _, name := range h.global {
		v := obj.Get(name)
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			return nil, fmt.Errorf("%s is not defined", strings.Join(h.global, "."))
		}
		obj = v.ToObject(vm)
	}
	return obj, nil
}

func exportArgs(args []goja.Value) []any {
	out := make([]any, 0, len(args))
	for _, a := range args {
		out = append(out, a.Export())
	}
	return out
}
