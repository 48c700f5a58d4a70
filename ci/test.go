package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	recaptcha "github.com/libops/recaptcha-widget"
	"github.com/libops/recaptcha-widget/captchatest"
	"github.com/libops/recaptcha-widget/internal/helper"
	"github.com/libops/recaptcha-widget/jsruntime"
)

const numControllers = 100
const parallelism = 10
const settleTimeout = 30 * time.Second

type counters struct {
	loads   atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
}

func (c *counters) handlers() recaptcha.Handlers {
	return recaptcha.Handlers{
		OnLoad:   func() { c.loads.Add(1) },
		OnChange: func(string) { c.changes.Add(1) },
		OnErrored: func(err error) {
			c.errors.Add(1)
			slog.Warn("Controller reported an error", "err", err)
		},
	}
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	scripts := recaptcha.NewScriptLoader(log)
	host := jsruntime.New(jsruntime.Stub(), jsruntime.WithLogger(log))
	defer host.Close()

	fmt.Printf("Starting %d scored controllers\n", numControllers)
	scored := &counters{}
	controllers := startControllers(host, scripts, scored, numControllers, func(int) (*recaptcha.Config, []recaptcha.Option) {
		config := recaptcha.CreateConfig()
		config.SiteKey = "ci-site-key"
		config.Version = recaptcha.VersionScored
		return config, nil
	})
	waitForReady(controllers)
	checkOnce("OnLoad", scored.loads.Load(), numControllers)
	checkScriptState(scripts, host, recaptcha.VersionScored, recaptcha.LoadLoaded)

	fmt.Printf("Making sure %d executions return tokens\n", numControllers)
	runParallelChecks(controllers, func(c *recaptcha.Controller) error {
		token, err := c.ExecuteMustSucceed(context.Background())
		if err != nil {
			return err
		}
		if !strings.HasPrefix(token, "stub.ci-site-key.submit.") {
			return fmt.Errorf("unexpected token %q", token)
		}
		return nil
	})

	fmt.Printf("Mounting %d interactive widgets\n", numControllers)
	interactive := &counters{}
	widgets := startControllers(host, scripts, interactive, numControllers, func(i int) (*recaptcha.Config, []recaptcha.Option) {
		config := recaptcha.CreateConfig()
		config.SiteKey = "ci-site-key"
		return config, []recaptcha.Option{
			recaptcha.WithSurface(captchatest.NewSurface(fmt.Sprintf("captcha-%d", i))),
		}
	})
	waitForReady(widgets)
	checkOnce("OnLoad", interactive.loads.Load(), numControllers)

	rendered, err := host.Eval(`__recaptchaStub.widgets()`)
	if err != nil || rendered != int64(numControllers) {
		slog.Error("Unexpected widget count", "expected", numControllers, "rendered", rendered, "err", err)
		os.Exit(1)
	}

	fmt.Println("Solving every widget")
	_, err = host.Eval(`for (var i = 0; i < __recaptchaStub.widgets(); i++) { __recaptchaStub.solve(i, "human." + i); }`)
	if err != nil {
		slog.Error("Unable to solve widgets", "err", err)
		os.Exit(1)
	}
	checkOnce("OnChange", interactive.changes.Load(), numControllers)
	var seen sync.Map
	runParallelChecks(widgets, func(c *recaptcha.Controller) error {
		token := c.GetResponse()
		if !strings.HasPrefix(token, "human.") {
			return fmt.Errorf("unexpected response %q", token)
		}
		if _, dup := seen.LoadOrStore(token, struct{}{}); dup {
			return fmt.Errorf("response %q shared between widgets", token)
		}
		return nil
	})

	checkTags(host)

	fmt.Println("Tearing everything down")
	for _, c := range append(controllers, widgets...) {
		c.Destroy()
	}
	checkTags(host)

	testTeardownBeforeLoad(log)

	if n := scored.errors.Load() + interactive.errors.Load(); n != 0 {
		slog.Error("Controllers reported errors", "count", n)
		os.Exit(1)
	}

	statePath, err := writeState(scripts, host)
	if err != nil {
		slog.Error("Failed to write loader state", "err", err)
		os.Exit(1)
	}
	fmt.Printf("Loader state written to %s\n", statePath)
	fmt.Println("✓ All lifecycle checks passed")
}

func startControllers(host recaptcha.Host, scripts *recaptcha.ScriptLoader, c *counters, n int, configure func(i int) (*recaptcha.Config, []recaptcha.Option)) []*recaptcha.Controller {
	out := make([]*recaptcha.Controller, 0, n)
	for i := range n {
		config, opts := configure(i)
		opts = append(opts,
			recaptcha.WithScriptLoader(scripts),
			recaptcha.WithLogger(slog.New(slog.DiscardHandler)),
		)
		controller, err := recaptcha.New(context.Background(), config, host, c.handlers(), opts...)
		if err != nil {
			slog.Error("Unable to create controller", "err", err)
			os.Exit(1)
		}
		out = append(out, controller)
	}
	return out
}

func waitForReady(controllers []*recaptcha.Controller) {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	for i, c := range controllers {
		if err := c.Wait(ctx); err != nil {
			slog.Error("Controller did not become ready", "controller", i, "state", c.State(), "err", err)
			os.Exit(1)
		}
		if !c.Ready() {
			slog.Error("Controller settled without readiness", "controller", i, "state", c.State())
			os.Exit(1)
		}
	}
}

func runParallelChecks(controllers []*recaptcha.Controller, check func(*recaptcha.Controller) error) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, parallelism)

	for i, c := range controllers {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, c *recaptcha.Controller) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := check(c); err != nil {
				slog.Error("Check failed", "controller", i, "err", err)
				os.Exit(1)
			}
		}(i, c)
	}

	wg.Wait()
}

func checkOnce(handler string, got int64, expected int) {
	if got != int64(expected) {
		slog.Error("Unexpected handler count", "handler", handler, "expected", expected, "received", got)
		os.Exit(1)
	}
}

func checkScriptState(scripts *recaptcha.ScriptLoader, doc recaptcha.Document, version recaptcha.Version, expected recaptcha.LoadState) {
	if got := scripts.State(doc, version); got != expected {
		slog.Error("Unexpected script state", "version", version, "expected", expected, "received", got)
		os.Exit(1)
	}
}

// checkTags makes sure each version kept exactly its one tag.
func checkTags(host *jsruntime.Host) {
	for _, v := range []recaptcha.Version{recaptcha.VersionScored, recaptcha.VersionInteractive} {
		id := helper.ScriptID(string(v))
		if !host.HasScript(id) {
			slog.Error("Script tag missing", "id", id)
			os.Exit(1)
		}
	}
	fmt.Println("✓ One script tag per version")
}

// testTeardownBeforeLoad destroys controllers while their script is still
// being fetched and makes sure the tag goes away with the last of them.
func testTeardownBeforeLoad(log *slog.Logger) {
	fmt.Println("\nTesting teardown before load...")

	release := make(chan struct{})
	host := jsruntime.New(jsruntime.FetcherFunc(func(ctx context.Context, _ string) (string, error) {
		select {
		case <-release:
			return helper.StubProviderJS(), nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}), jsruntime.WithLogger(log))
	defer host.Close()
	scripts := recaptcha.NewScriptLoader(log)

	c := &counters{}
	controllers := startControllers(host, scripts, c, parallelism, func(int) (*recaptcha.Config, []recaptcha.Option) {
		config := recaptcha.CreateConfig()
		config.SiteKey = "ci-site-key"
		config.Version = recaptcha.VersionScored
		return config, nil
	})

	id := helper.ScriptID(string(recaptcha.VersionScored))
	deadline := time.Now().Add(settleTimeout)
	for !host.HasScript(id) {
		if time.Now().After(deadline) {
			slog.Error("Script tag never appended", "id", id)
			os.Exit(1)
		}
		time.Sleep(10 * time.Millisecond)
	}

	for _, controller := range controllers {
		for controller.State() != recaptcha.StateLoading {
			if time.Now().After(deadline) {
				slog.Error("Controller never started loading", "state", controller.State())
				os.Exit(1)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	for i, controller := range controllers {
		controller.Destroy()
		if i < len(controllers)-1 && !host.HasScript(id) {
			slog.Error("Tag removed while controllers still wait on it", "remaining", len(controllers)-i-1)
			os.Exit(1)
		}
	}
	close(release)

	if host.HasScript(id) {
		slog.Error("Tag of an abandoned load was not removed", "id", id)
		os.Exit(1)
	}
	checkScriptState(scripts, host, recaptcha.VersionScored, recaptcha.LoadUnloaded)
	time.Sleep(100 * time.Millisecond)
	if total := c.loads.Load() + c.changes.Load() + c.errors.Load(); total != 0 {
		slog.Error("Handlers ran after teardown", "calls", total)
		os.Exit(1)
	}
	fmt.Println("✓ Abandoned load cleaned up")
}

func writeState(scripts *recaptcha.ScriptLoader, doc recaptcha.Document) (string, error) {
	p := filepath.Join("tmp", "state.json")
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("failed to create state dir: %w", err)
	}

	data, err := json.MarshalIndent(scripts.Snapshot(doc), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write state file %s: %w", p, err)
	}

	return p, nil
}
