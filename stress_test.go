package recaptcha_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	recaptcha "github.com/libops/recaptcha-widget"
	"github.com/libops/recaptcha-widget/captchatest"
)

// TestLifecycleWithinThreshold drives many controllers through load,
// readiness, execution and teardown against one shared loader. Timings are
// logged for ci/parse-stress-results.
func TestLifecycleWithinThreshold(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	tests := []struct {
		name        string
		controllers int
	}{
		{name: "Small", controllers: 100},
		{name: "Medium", controllers: 1000},
		{name: "Large", controllers: 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := captchatest.NewRuntime()
			host := captchatest.NewHost(rt)
			host.AutoLoad = true
			scripts := recaptcha.NewScriptLoader(nil)

			began := time.Now()
			controllers := make([]*recaptcha.Controller, 0, tt.controllers)
			for range tt.controllers {
				controllers = append(controllers, start(t, scoredConfig(), host, &recorder{}, recaptcha.WithScriptLoader(scripts)))
			}
			for _, c := range controllers {
				if err := settle(t, c); err != nil {
					t.Fatal(err)
				}
				if _, err := c.ExecuteMustSucceed(context.Background()); err != nil {
					t.Fatal(err)
				}
			}
			elapsed := time.Since(began)
			t.Logf("Lifecycle took %dms", elapsed.Milliseconds())

			if got := host.Injected(); got != 1 {
				t.Errorf("Expected 1 injected script, got %d", got)
			}
			if got := len(rt.Executes()); got != tt.controllers {
				t.Errorf("Expected %d executions, got %d", tt.controllers, got)
			}

			data, err := json.Marshal(scripts.Snapshot(host))
			if err != nil {
				t.Fatal(err)
			}
			t.Logf("Snapshot size: %d bytes", len(data))

			for _, c := range controllers {
				c.Destroy()
			}
			if !host.HasScript("recaptcha-script-v3") {
				t.Error("Loaded script removed on teardown")
			}
		})
	}
}
