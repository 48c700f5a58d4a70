package recaptcha

import (
	"log/slog"

	"github.com/libops/recaptcha-widget/internal/loader"
	"github.com/libops/recaptcha-widget/internal/state"
)

type (
	LoadState = state.LoadState
	// ScriptsState is a JSON-serializable snapshot of a ScriptLoader.
	ScriptsState = state.State
)

const (
	LoadUnloaded = state.Unloaded
	LoadLoading  = state.Loading
	LoadLoaded   = state.Loaded
	LoadFailed   = state.Failed
)

// ScriptLoader tracks one script tag per challenge version and document.
// Controllers sharing a loader and a document share its tags; by default
// every controller in the process uses DefaultScriptLoader.
type ScriptLoader struct {
	l *loader.Loader
}

func NewScriptLoader(logger *slog.Logger) *ScriptLoader {
	return &ScriptLoader{l: loader.New(logger)}
}

func DefaultScriptLoader() *ScriptLoader {
	return &ScriptLoader{l: loader.Default()}
}

// State returns the load state of version's script in doc.
func (s *ScriptLoader) State(doc Document, version Version) LoadState {
	return s.l.State(doc, string(version))
}

func (s *ScriptLoader) Snapshot(doc Document) ScriptsState {
	return s.l.Snapshot(doc)
}
