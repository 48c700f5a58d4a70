// Package captchatest provides in-memory stand-ins for the page and the
// provider runtime, for testing code built on package recaptcha.
package captchatest

import (
	"context"
	"errors"
	"sync"

	recaptcha "github.com/libops/recaptcha-widget"
)

// Document is an in-memory document head. Tags stay pending until Load or
// Fail fires their events, unless AutoLoad is set.
type Document struct {
	// AutoLoad fires a tag's load event as soon as it is appended.
	AutoLoad bool

	mu       sync.Mutex
	scripts  map[string]recaptcha.ScriptTag
	loaded   map[string]bool
	injected int
	removed  []string
	changed  chan struct{}
}

func NewDocument() *Document {
	return &Document{
		scripts: make(map[string]recaptcha.ScriptTag),
		loaded:  make(map[string]bool),
		changed: make(chan struct{}),
	}
}

func (d *Document) HasScript(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.scripts[id]
	return ok
}

func (d *Document) AppendScript(tag recaptcha.ScriptTag) error {
	if tag.ID == "" {
		return errors.New("script tag without id")
	}

	d.mu.Lock()
	d.scripts[tag.ID] = tag
	d.injected++
	d.notify()
	auto := d.AutoLoad
	d.mu.Unlock()

	if auto {
		d.Load(tag.ID)
	}
	return nil
}

func (d *Document) RemoveScript(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.scripts[id]; !ok {
		return
	}
	delete(d.scripts, id)
	delete(d.loaded, id)
	d.removed = append(d.removed, id)
	d.notify()
}

// notify wakes WaitForScript callers. d.mu must be held.
func (d *Document) notify() {
	close(d.changed)
	d.changed = make(chan struct{})
}

// Load fires the load event of the tag with id. It reports false when no
// such tag is present.
func (d *Document) Load(id string) bool {
	d.mu.Lock()
	tag, ok := d.scripts[id]
	if ok {
		d.loaded[id] = true
	}
	d.mu.Unlock()

	if !ok {
		return false
	}
	if tag.OnLoad != nil {
		tag.OnLoad()
	}
	return true
}

// Fail fires the error event of the tag with id.
func (d *Document) Fail(id string, err error) bool {
	d.mu.Lock()
	tag, ok := d.scripts[id]
	d.mu.Unlock()

	if !ok {
		return false
	}
	if tag.OnError != nil {
		tag.OnError(err)
	}
	return true
}

func (d *Document) Script(id string) (recaptcha.ScriptTag, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tag, ok := d.scripts[id]
	return tag, ok
}

// Scripts returns the number of tags currently in the document.
func (d *Document) Scripts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.scripts)
}

// Injected returns how many tags were ever appended.
func (d *Document) Injected() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.injected
}

// Removed returns the ids of removed tags, in order.
func (d *Document) Removed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.removed...)
}

func (d *Document) anyLoaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.loaded) > 0
}

// WaitForScript blocks until a tag with id is present.
func (d *Document) WaitForScript(ctx context.Context, id string) (recaptcha.ScriptTag, error) {
	for {
		d.mu.Lock()
		tag, ok := d.scripts[id]
		changed := d.changed
		d.mu.Unlock()
		if ok {
			return tag, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return recaptcha.ScriptTag{}, ctx.Err()
		}
	}
}
