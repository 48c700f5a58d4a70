package recaptcha

import (
	"context"
	"sync"
)

// readyGate turns the runtime's ready registration into a single event.
type readyGate struct {
	arm   sync.Once
	fire  sync.Once
	ready chan struct{}
	// err is the rejected registration, set inside arm.
	err error
}

func newReadyGate() *readyGate {
	return &readyGate{ready: make(chan struct{})}
}

// await registers with rt on first use and blocks until it reports ready or
// ctx ends. Later invocations of the registered callback are ignored. A
// rejected registration is a script load error.
func (g *readyGate) await(ctx context.Context, rt Runtime) error {
	g.arm.Do(func() {
		err := rt.Ready(func() {
			g.fire.Do(func() {
				close(g.ready)
			})
		})
		if err != nil {
			g.err = normalize(err, KindScriptLoad, "reCAPTCHA rejected the ready callback")
		}
	})
	if g.err != nil {
		return g.err
	}

	select {
	case <-g.ready:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (g *readyGate) fired() bool {
	select {
	case <-g.ready:
		return true
	default:
		return false
	}
}
