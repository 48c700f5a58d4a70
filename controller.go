// Package recaptcha drives a reCAPTCHA challenge from "no provider runtime on
// the page" to "a token obtainable on demand".
//
// A Controller injects the provider script once per challenge version, waits
// for the runtime's ready signal, renders the interactive widget when one is
// visible, and then serves Execute, ExecuteMustSucceed, Reset and
// GetResponse until it is destroyed. The page and the provider runtime are
// reached through the Host interface, so the same controller runs behind a
// browser bridge, the goja-hosted runtime in package jsruntime, or the fakes
// in package captchatest.
package recaptcha

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/libops/recaptcha-widget/internal/helper"
	"github.com/libops/recaptcha-widget/internal/loader"
	"github.com/libops/recaptcha-widget/internal/log"
)

const tracerName = "github.com/libops/recaptcha-widget"

// State is a controller's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateLoaded
	StateRendering
	// StateReady serves operations without a rendered widget.
	StateReady
	// StateActive serves operations against a rendered widget.
	StateActive
	StateFailed
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateRendering:
		return "rendering"
	case StateReady:
		return "ready"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Handlers are the hosting application's callbacks. None of them is
// dispatched once Destroy has returned; a handler that was already running
// when Destroy was called may finish. Handlers may call Destroy.
type Handlers struct {
	// OnChange receives a new token, or "" when the token was cleared.
	OnChange  func(token string)
	OnExpired func()
	// OnErrored receives an *Error.
	OnErrored func(err error)
	OnLoad    func()
}

type Option func(*Controller)

// WithSurface sets the element a visible widget renders into.
func WithSurface(s Surface) Option {
	return func(c *Controller) {
		c.surface = s
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.log = l
	}
}

// WithScriptLoader shares script tags with the other controllers using l
// instead of the process-wide loader.
func WithScriptLoader(l *ScriptLoader) Option {
	return func(c *Controller) {
		c.scripts = l
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Controller) {
		c.tracer = tp.Tracer(tracerName)
	}
}

type Controller struct {
	id       string
	config   Config
	provider helper.Provider
	host     Host
	surface  Surface
	handlers Handlers
	log      *slog.Logger
	tracer   trace.Tracer
	scripts  *ScriptLoader

	gate     *readyGate
	widgets  *widgetRegistry
	executor *tokenExecutor

	ctx       context.Context
	cancel    context.CancelCauseFunc
	settled   chan struct{}
	destroyed atomic.Bool

	mu         sync.Mutex
	state      State
	runtime    Runtime
	attempt    *loader.Attempt
	token      string
	failure    error
	stopParent func() bool
}

// New validates config and starts initializing a controller right away.
// Cancelling ctx destroys the controller.
func New(ctx context.Context, config *Config, host Host, handlers Handlers, opts ...Option) (*Controller, error) {
	if config == nil {
		return nil, errors.New("a config is required")
	}
	if host == nil {
		return nil, errors.New("a host is required")
	}

	cfg := config.clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	provider, err := helper.LookupProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		id:       uuid.NewString(),
		config:   cfg,
		provider: provider,
		host:     host,
		handlers: handlers,
		gate:     newReadyGate(),
		widgets:  &widgetRegistry{},
		executor: &tokenExecutor{
			version: cfg.Version,
			siteKey: cfg.SiteKey,
			action:  cfg.Action,
		},
		settled: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = log.New(cfg.LogLevel, nil)
	}
	c.log = c.log.With("instance", c.id, "version", string(cfg.Version))
	if c.tracer == nil {
		c.tracer = otel.GetTracerProvider().Tracer(tracerName)
	}
	if c.scripts == nil {
		c.scripts = DefaultScriptLoader()
	}

	if cfg.Visible() && c.surface == nil {
		return nil, fmt.Errorf("version %s with size %s renders a widget and needs a surface", cfg.Version, cfg.Size)
	}

	c.log.Debug("Captcha config", "config", cfg)

	c.ctx, c.cancel = context.WithCancelCause(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.stopParent = context.AfterFunc(ctx, c.Destroy)
	c.mu.Unlock()

	go c.run()

	return c, nil
}

func (c *Controller) run() {
	defer close(c.settled)

	ctx, span := c.tracer.Start(c.ctx, "recaptcha.init", trace.WithAttributes(
		attribute.String("recaptcha.version", string(c.config.Version)),
		attribute.String("recaptcha.provider", c.provider.Name),
	))
	defer span.End()

	err := c.initialize(ctx)
	if err != nil {
		if c.destroyed.Load() {
			span.AddEvent("destroyed")
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.fail(err)
		return
	}

	c.log.Info("reCAPTCHA ready", "state", c.State())
	if c.handlers.OnLoad != nil && !c.destroyed.Load() {
		c.handlers.OnLoad()
	}

	if c.config.AutoExecute {
		if _, err := c.RefreshToken(ctx); err != nil {
			c.log.Warn("Initial token fetch failed", "err", err)
		}
	}
}

func (c *Controller) initialize(ctx context.Context) error {
	attempt, err := c.begin()
	if err != nil {
		return err
	}

	if err := attempt.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return normalize(err, KindScriptLoad, "failed to load reCAPTCHA script")
	}

	rt := c.host.Runtime()
	if rt == nil {
		return &Error{Kind: KindScriptLoad, Message: fmt.Sprintf("script loaded but %s is not defined", c.provider.Global)}
	}
	c.mu.Lock()
	c.runtime = rt
	c.mu.Unlock()
	if !c.transition(StateLoading, StateLoaded) {
		return ErrDestroyed
	}

	if err := c.gate.await(ctx, rt); err != nil {
		return err
	}

	if !c.config.Visible() {
		if !c.transition(StateLoaded, StateReady) {
			return ErrDestroyed
		}
		return nil
	}

	if !c.transition(StateLoaded, StateRendering) {
		return ErrDestroyed
	}
	handle, err := c.widgets.render(rt, c.surface, c.alive, c.applyStyle, c.renderOptions())
	if err != nil {
		return err
	}
	c.log.Debug("Rendered widget", "widget", int(handle), "surface", c.surface.ID())
	if !c.transition(StateRendering, StateActive) {
		return ErrDestroyed
	}
	return nil
}

// begin moves to Loading and joins the script load. mu is held throughout so
// Destroy always finds the attempt to abandon; Begin only reaches the
// document and the loader registry.
func (c *Controller) begin() (*loader.Attempt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return nil, ErrDestroyed
	}
	c.state = StateLoading
	c.log.Debug("State change", "from", StateIdle, "to", StateLoading)

	attempt, err := c.scripts.l.Begin(c.host, loader.Request{
		Version:  string(c.config.Version),
		BaseURL:  c.provider.JS,
		SiteKey:  c.config.SiteKey,
		Language: c.config.Language,
		Scored:   c.config.Version == VersionScored,
	}, c.id)
	if err != nil {
		return nil, normalize(err, KindScriptLoad, "failed to load reCAPTCHA script")
	}
	c.attempt = attempt
	return attempt, nil
}

func (c *Controller) renderOptions() RenderOptions {
	return RenderOptions{
		SiteKey:  c.config.SiteKey,
		Theme:    c.config.Theme,
		Type:     c.config.Type,
		Size:     c.config.Size,
		TabIndex: c.config.TabIndex,
		Badge:    c.config.Badge,
		Isolated: c.config.Isolated,
		Callback: func(token string) {
			c.setToken(token)
			c.emitChange(token)
		},
		ExpiredCallback: func() {
			c.setToken("")
			if c.handlers.OnExpired != nil && !c.destroyed.Load() {
				c.handlers.OnExpired()
			}
		},
		ErrorCallback: func(payload any) {
			c.emitErrored(normalize(payload, KindExecution, "reCAPTCHA error"))
		},
	}
}

func (c *Controller) alive() bool {
	return !c.destroyed.Load()
}

func (c *Controller) applyStyle(s Styler) {
	s.ApplyStyle(c.config.ClassName, c.config.Style)
}

// transition moves from one state to the next, failing once the controller
// has left from.
func (c *Controller) transition(from, to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return false
	}
	c.state = to
	c.log.Debug("State change", "from", from, "to", to)
	return true
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	if c.state == StateDestroyed {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = StateFailed
	c.failure = err
	c.mu.Unlock()

	c.log.Error("reCAPTCHA initialization failed", "state", prev, "err", err)
	c.emitErrored(err)
}

func (c *Controller) setToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateDestroyed {
		c.token = token
	}
}

func (c *Controller) emitChange(token string) {
	if c.handlers.OnChange != nil && !c.destroyed.Load() {
		c.handlers.OnChange(token)
	}
}

func (c *Controller) emitErrored(err error) {
	if c.handlers.OnErrored != nil && !c.destroyed.Load() {
		c.handlers.OnErrored(err)
	}
}

// operational returns what an operation needs, and false unless the
// controller is Ready or Active.
func (c *Controller) operational() (Runtime, WidgetID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady && c.state != StateActive {
		return nil, DefaultWidget, false
	}
	handle, _ := c.widgets.current()
	return c.runtime, handle, true
}

// bind derives a context that also ends, with ErrDestroyed, on Destroy.
func (c *Controller) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(c.ctx, func() {
		cancel(context.Cause(c.ctx))
	})
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}

// Execute returns a token: the widget's current response for the interactive
// version, a freshly scored token for the scored version. Before the
// controller is ready it returns "" without touching the runtime. "" with a
// nil error also means the user has not completed the challenge yet.
// Execution failures are returned and reported to OnErrored.
func (c *Controller) Execute(ctx context.Context) (string, error) {
	rt, handle, ok := c.operational()
	if !ok {
		return "", nil
	}

	ctx, span := c.tracer.Start(ctx, "recaptcha.execute", trace.WithAttributes(
		attribute.String("recaptcha.version", string(c.config.Version)),
		attribute.String("recaptcha.action", c.config.Action),
	))
	defer span.End()

	ctx, cancel := c.bind(ctx)
	defer cancel()

	token, err := c.executor.retrieve(ctx, rt, handle)
	if c.destroyed.Load() {
		span.AddEvent("destroyed")
		return "", ErrDestroyed
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var e *Error
		if errors.As(err, &e) {
			c.log.Warn("reCAPTCHA execution failed", "err", err)
			c.emitErrored(e)
		}
		return "", err
	}

	if token != "" {
		c.setToken(token)
	}
	span.SetAttributes(attribute.Bool("recaptcha.token", token != ""))
	return token, nil
}

// ExecuteMustSucceed is Execute that fails with a TokenUnavailable error
// instead of returning "".
func (c *Controller) ExecuteMustSucceed(ctx context.Context) (string, error) {
	return mustSucceed(c.Execute(ctx))
}

// RefreshToken fetches a token and publishes it through OnChange.
func (c *Controller) RefreshToken(ctx context.Context) (string, error) {
	token, err := c.ExecuteMustSucceed(ctx)
	if err != nil {
		return "", err
	}
	c.emitChange(token)
	return token, nil
}

// Reset clears the current token. For the interactive version it also resets
// the rendered widget and reports "" to OnChange.
func (c *Controller) Reset() {
	rt, handle, ok := c.operational()
	if !ok {
		return
	}

	c.setToken("")
	if c.config.Version == VersionScored {
		return
	}

	if _, rendered := c.widgets.current(); rendered {
		if err := rt.Reset(handle); err != nil {
			c.emitErrored(normalize(err, KindExecution, "failed to reset reCAPTCHA"))
			return
		}
	}
	c.emitChange("")
}

// GetResponse returns the widget's stored response for the interactive
// version, the last token for the scored version, or "" before ready and
// when no widget was rendered.
func (c *Controller) GetResponse() string {
	rt, handle, ok := c.operational()
	if !ok {
		return ""
	}
	if c.config.Version == VersionScored {
		return c.Token()
	}
	if handle == DefaultWidget {
		return ""
	}

	token, err := rt.GetResponse(handle)
	if err != nil {
		c.emitErrored(normalize(err, KindExecution, "failed to get reCAPTCHA response"))
		return ""
	}
	return token
}

// Token returns the last token seen by the controller, "" when none is cached.
func (c *Controller) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ready reports whether the runtime has signalled readiness. It never
// reverts.
func (c *Controller) Ready() bool {
	return c.gate.fired()
}

// Visible reports whether the controller renders a widget, and so needs a
// surface mounted.
func (c *Controller) Visible() bool {
	return c.config.Visible()
}

// Styling returns the class name and inline style to mount the surface with.
func (c *Controller) Styling() (string, map[string]string) {
	return c.config.ClassName, c.config.clone().Style
}

// Wait blocks until initialization settles. It returns the initialization
// failure, ErrDestroyed, or nil once the controller serves operations.
func (c *Controller) Wait(ctx context.Context) error {
	select {
	case <-c.settled:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateFailed:
		return c.failure
	case StateDestroyed:
		return ErrDestroyed
	}
	return nil
}

// Destroy tears the controller down. In-flight loads and executions are
// abandoned and a script tag whose load is still outstanding is removed. No
// handler is dispatched after Destroy returns, but Destroy does not wait for
// one that is already running. It is safe to call more than once, including
// from inside a handler.
func (c *Controller) Destroy() {
	if !c.destroyed.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	prev := c.state
	c.state = StateDestroyed
	c.token = ""
	attempt := c.attempt
	stop := c.stopParent
	c.mu.Unlock()

	c.cancel(ErrDestroyed)
	if stop != nil {
		stop()
	}
	if attempt != nil {
		attempt.Abandon()
	}

	c.log.Debug("Destroyed", "state", prev)
}
