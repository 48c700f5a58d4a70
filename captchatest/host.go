package captchatest

import (
	"sync"

	recaptcha "github.com/libops/recaptcha-widget"
)

// Host pairs a Document with a Runtime. Like the real provider global, the
// runtime only becomes visible once a script tag has loaded.
type Host struct {
	*Document
	rt *Runtime
}

func NewHost(rt *Runtime) *Host {
	return &Host{
		Document: NewDocument(),
		rt:       rt,
	}
}

func (h *Host) Runtime() recaptcha.Runtime {
	if h.rt == nil || !h.anyLoaded() {
		return nil
	}
	return h.rt
}

// Surface is an element id that can be detached.
type Surface struct {
	id string

	mu        sync.Mutex
	attached  bool
	className string
	style     map[string]string
	styled    int
}

func NewSurface(id string) *Surface {
	return &Surface{id: id, attached: true}
}

func (s *Surface) ID() string {
	return s.id
}

func (s *Surface) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

func (s *Surface) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = false
}

func (s *Surface) ApplyStyle(className string, style map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.className = className
	s.style = style
	s.styled++
}

// Style returns what was last applied and how many times styling happened.
func (s *Surface) Style() (string, map[string]string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.className, s.style, s.styled
}
