// Package loader injects provider script tags, at most one per challenge
// version for every document sharing a Loader.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/libops/recaptcha-widget/internal/helper"
	"github.com/libops/recaptcha-widget/internal/log"
	"github.com/libops/recaptcha-widget/internal/state"
)

// Tag is a script element to be appended to the document head.
type Tag struct {
	ID    string
	Src   string
	Async bool
	Defer bool
	// OnLoad and OnError are the element's load and error events. Exactly one
	// of them should fire, on any goroutine, possibly before AppendScript returns.
	OnLoad  func()
	OnError func(err error)
}

// Document is the part of the page the loader mutates.
type Document interface {
	HasScript(id string) bool
	AppendScript(tag Tag) error
	RemoveScript(id string)
}

// Request identifies the script for one challenge version.
type Request struct {
	Version  string
	BaseURL  string
	SiteKey  string
	Language string
	Scored   bool
}

// Loader keeps one registry per document, so a version is injected once into
// each document it serves. Documents are map keys and must be comparable;
// pointer implementations are.
type Loader struct {
	log *slog.Logger

	mu   sync.Mutex
	docs map[Document]*state.Registry
}

func New(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = log.Discard()
	}
	return &Loader{
		log:  logger,
		docs: make(map[Document]*state.Registry),
	}
}

var (
	defaultOnce   sync.Once
	defaultLoader *Loader
)

// Default returns the process-wide loader.
func Default() *Loader {
	defaultOnce.Do(func() {
		defaultLoader = New(nil)
	})
	return defaultLoader
}

// registry returns the registry of doc, creating it on first use.
func (l *Loader) registry(doc Document) *state.Registry {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.docs[doc]
	if !ok {
		r = state.NewRegistry()
		l.docs[doc] = r
	}
	return r
}

// State returns the load state of version's script in doc.
func (l *Loader) State(doc Document, version string) state.LoadState {
	return l.registry(doc).Get(version)
}

func (l *Loader) Snapshot(doc Document) state.State {
	return l.registry(doc).Snapshot()
}

// Begin joins owner to the load of req's script in doc, injecting the tag
// when doc has no load for req.Version yet.
func (l *Loader) Begin(doc Document, req Request, owner string) (*Attempt, error) {
	src, err := helper.ScriptURL(req.BaseURL, req.SiteKey, req.Language, req.Scored)
	if err != nil {
		return nil, err
	}
	id := helper.ScriptID(req.Version)

	registry := l.registry(doc)
	entry, created := registry.Acquire(req.Version, owner, func() bool {
		return doc.HasScript(id)
	})
	a := &Attempt{
		loader:   l,
		registry: registry,
		doc:      doc,
		entry:    entry,
		owner:    owner,
		id:       id,
	}
	if !created {
		l.log.Debug("Script already requested", "id", id, "state", entry.State(), "owner", owner)
		return a, nil
	}

	drop := func() {
		doc.RemoveScript(id)
	}
	tag := Tag{
		ID:    id,
		Src:   src,
		Async: true,
		Defer: true,
		OnLoad: func() {
			if registry.Complete(entry, nil, nil) {
				l.log.Debug("Script loaded", "id", id)
			}
		},
		OnError: func(err error) {
			if err == nil {
				err = fmt.Errorf("error event on %s", src)
			}
			if registry.Complete(entry, err, drop) {
				l.log.Error("Script failed to load", "id", id, "src", src, "err", err)
			}
		},
	}

	l.log.Debug("Injecting script", "id", id, "src", src, "owner", owner)
	if err := doc.AppendScript(tag); err != nil {
		if registry.Complete(entry, fmt.Errorf("unable to append %s: %w", id, err), nil) {
			l.log.Error("Unable to append script", "id", id, "err", err)
		}
	}

	return a, nil
}

// Attempt is one owner's interest in a script load.
type Attempt struct {
	loader   *Loader
	registry *state.Registry
	doc      Document
	entry    *state.Entry
	owner    string
	id       string
	once     sync.Once
}

// Wait blocks until the script loads, fails, or ctx ends. An ended ctx
// abandons the attempt.
func (a *Attempt) Wait(ctx context.Context) error {
	select {
	case <-a.entry.Done():
		a.release()
		if err := a.entry.Err(); err != nil {
			return fmt.Errorf("unable to load %s: %w", a.id, err)
		}
		return nil
	case <-ctx.Done():
		a.Abandon()
		return ctx.Err()
	}
}

// Abandon withdraws the attempt. If it was the last one waiting on an
// outstanding load, the half-loaded tag is removed from the document.
// Loaded tags are never removed.
func (a *Attempt) Abandon() {
	a.release()
}

func (a *Attempt) release() {
	a.once.Do(func() {
		removed := a.registry.Release(a.entry, a.owner, func() {
			a.doc.RemoveScript(a.id)
		})
		if removed {
			a.loader.log.Debug("Removed script of an abandoned load", "id", a.id, "owner", a.owner)
		}
	})
}
