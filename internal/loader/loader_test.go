package loader

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/libops/recaptcha-widget/internal/state"
)

type fakeDoc struct {
	mu       sync.Mutex
	tags     map[string]Tag
	appended int
	removed  []string
	failNext error
}

func newFakeDoc() *fakeDoc {
	return &fakeDoc{tags: make(map[string]Tag)}
}

func (d *fakeDoc) HasScript(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.tags[id]
	return ok
}

func (d *fakeDoc) AppendScript(tag Tag) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failNext != nil {
		err := d.failNext
		d.failNext = nil
		return err
	}
	d.tags[tag.ID] = tag
	d.appended++
	return nil
}

func (d *fakeDoc) RemoveScript(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tags, id)
	d.removed = append(d.removed, id)
}

func (d *fakeDoc) tag(t *testing.T, id string) Tag {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	tag, ok := d.tags[id]
	if !ok {
		t.Fatalf("Expected script %s in the document", id)
	}
	return tag
}

var scoredRequest = Request{
	Version:  "v3",
	BaseURL:  "https://www.google.com/recaptcha/api.js",
	SiteKey:  "S1",
	Language: "en",
	Scored:   true,
}

func waitErr(t *testing.T, a *Attempt, ctx context.Context) <-chan error {
	t.Helper()
	ch := make(chan error, 1)
	go func() {
		ch <- a.Wait(ctx)
	}()
	return ch
}

func TestBeginInjectsTag(t *testing.T) {
	doc := newFakeDoc()
	l := New(nil)

	a, err := l.Begin(doc, scoredRequest, "a")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	tag := doc.tag(t, "recaptcha-script-v3")
	if !tag.Async || !tag.Defer {
		t.Error("Expected an async, deferred script")
	}
	u, err := url.Parse(tag.Src)
	if err != nil {
		t.Fatalf("Unparsable src %s", tag.Src)
	}
	if u.Query().Get("render") != "S1" || u.Query().Get("hl") != "en" {
		t.Errorf("Unexpected src %s", tag.Src)
	}
	if l.State(doc, "v3") != state.Loading {
		t.Errorf("Expected loading, got %s", l.State(doc, "v3"))
	}

	done := waitErr(t, a, context.Background())
	tag.OnLoad()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected load to succeed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for load")
	}
	if l.State(doc, "v3") != state.Loaded {
		t.Errorf("Expected loaded, got %s", l.State(doc, "v3"))
	}
}

func TestBeginIsIdempotentPerVersion(t *testing.T) {
	doc := newFakeDoc()
	l := New(nil)

	var wg sync.WaitGroup
	attempts := make([]*Attempt, 20)
	for i := range attempts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := l.Begin(doc, scoredRequest, string(rune('a'+i)))
			if err != nil {
				t.Errorf("Begin failed: %v", err)
				return
			}
			attempts[i] = a
		}(i)
	}
	wg.Wait()

	if doc.appended != 1 {
		t.Fatalf("Expected exactly 1 injected tag, got %d", doc.appended)
	}

	doc.tag(t, "recaptcha-script-v3").OnLoad()
	for _, a := range attempts {
		if err := a.Wait(context.Background()); err != nil {
			t.Errorf("Expected every attempt to share the load, got %v", err)
		}
	}

	interactive := scoredRequest
	interactive.Version = "v2"
	interactive.Scored = false
	if _, err := l.Begin(doc, interactive, "z"); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if doc.appended != 2 {
		t.Errorf("Expected a separate tag for another version, got %d tags", doc.appended)
	}
}

func TestBeginExternalTag(t *testing.T) {
	doc := newFakeDoc()
	doc.tags["recaptcha-script-v3"] = Tag{ID: "recaptcha-script-v3"}
	l := New(nil)

	a, err := l.Begin(doc, scoredRequest, "a")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if doc.appended != 0 {
		t.Error("Expected an existing tag not to be re-injected")
	}
	if err := a.Wait(context.Background()); err != nil {
		t.Errorf("Expected immediate success, got %v", err)
	}
}

func TestLoadFailure(t *testing.T) {
	doc := newFakeDoc()
	l := New(nil)

	a, _ := l.Begin(doc, scoredRequest, "a")
	b, _ := l.Begin(doc, scoredRequest, "b")
	doc.tag(t, "recaptcha-script-v3").OnError(errors.New("net::ERR_BLOCKED_BY_CLIENT"))

	for _, attempt := range []*Attempt{a, b} {
		if err := attempt.Wait(context.Background()); err == nil {
			t.Error("Expected every waiter to observe the failure")
		}
	}
	if doc.HasScript("recaptcha-script-v3") {
		t.Error("Expected the failed tag to be removed")
	}
	if l.State(doc, "v3") != state.Unloaded {
		t.Errorf("Expected the failed load to be forgotten, got %s", l.State(doc, "v3"))
	}

	if _, err := l.Begin(doc, scoredRequest, "c"); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if doc.appended != 2 {
		t.Errorf("Expected a retry to inject a fresh tag, got %d tags", doc.appended)
	}
}

func TestAppendFailure(t *testing.T) {
	doc := newFakeDoc()
	doc.failNext = errors.New("head is gone")
	l := New(nil)

	a, err := l.Begin(doc, scoredRequest, "a")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := a.Wait(context.Background()); err == nil {
		t.Error("Expected append failure to fail the attempt")
	}
}

func TestAbandonOutstandingLoad(t *testing.T) {
	doc := newFakeDoc()
	l := New(nil)

	a, _ := l.Begin(doc, scoredRequest, "a")
	b, _ := l.Begin(doc, scoredRequest, "b")
	tag := doc.tag(t, "recaptcha-script-v3")

	a.Abandon()
	if !doc.HasScript("recaptcha-script-v3") {
		t.Fatal("Expected the tag to stay while another attempt waits on it")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := waitErr(t, b, ctx)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if doc.HasScript("recaptcha-script-v3") {
		t.Error("Expected the last abandon to remove the tag")
	}

	// a late load event for the removed tag is ignored
	tag.OnLoad()
	if l.State(doc, "v3") != state.Unloaded {
		t.Errorf("Expected unloaded, got %s", l.State(doc, "v3"))
	}
}

func TestAbandonAfterLoadKeepsTag(t *testing.T) {
	doc := newFakeDoc()
	l := New(nil)

	a, _ := l.Begin(doc, scoredRequest, "a")
	doc.tag(t, "recaptcha-script-v3").OnLoad()
	if err := a.Wait(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	a.Abandon()

	if !doc.HasScript("recaptcha-script-v3") {
		t.Error("Expected a loaded tag never to be removed")
	}
	if len(doc.removed) != 0 {
		t.Errorf("Expected no removals, got %v", doc.removed)
	}
}

func TestBeginPerDocument(t *testing.T) {
	first, second := newFakeDoc(), newFakeDoc()
	l := New(nil)

	a, _ := l.Begin(first, scoredRequest, "a")
	first.tag(t, "recaptcha-script-v3").OnLoad()
	if err := a.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	b, err := l.Begin(second, scoredRequest, "b")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if second.appended != 1 {
		t.Fatalf("Expected the second document to get its own tag, got %d", second.appended)
	}
	if l.State(second, "v3") != state.Loading {
		t.Errorf("Expected loading in the second document, got %s", l.State(second, "v3"))
	}
	if l.State(first, "v3") != state.Loaded {
		t.Errorf("Expected the first document to stay loaded, got %s", l.State(first, "v3"))
	}

	second.tag(t, "recaptcha-script-v3").OnLoad()
	if err := b.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if first.appended != 1 {
		t.Errorf("Expected the first document untouched, got %d tags", first.appended)
	}
}

func TestDefault(t *testing.T) {
	if Default() != Default() {
		t.Error("Expected a single process-wide loader")
	}
}
