package notes

import (
	"context"
	"sync"

	"github.com/leeforge/lifecycle/plugin"
)

// Page is the notes UI integration handle.
type Page struct {
	service *NoteService

	mu       sync.Mutex
	visible  bool
	focused  bool
	rendered int
	actions  []string
	released bool
	removed  bool
}

func newPage(service *NoteService) *Page {
	return &Page{service: service, actions: []string{"notes.clear", "notes.export"}}
}

func (p *Page) Title() string { return "Notes" }

func (p *Page) render() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visible = true
	if p.service != nil {
		p.rendered = p.service.Len()
	}
}

func (p *Page) focus() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.focused = p.visible
}

func (p *Page) hide() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visible = false
	p.focused = false
}

// Visible reports whether the page is shown.
func (p *Page) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

// ReleaseResources drops the page's actions.
func (p *Page) ReleaseResources(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = nil
	p.released = true
	return nil
}

// RemovePage detaches the page from the host.
func (p *Page) RemovePage(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visible = false
	p.removed = true
	return nil
}

// Cleanup is the integration's own teardown.
func (p *Page) Cleanup(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.service = nil
	return nil
}

// TornDown reports whether every cleanup step ran.
func (p *Page) TornDown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released && p.removed && p.service == nil
}

var (
	_ plugin.ResourceReleaser = (*Page)(nil)
	_ plugin.PageRemover      = (*Page)(nil)
	_ plugin.Cleaner          = (*Page)(nil)
)
