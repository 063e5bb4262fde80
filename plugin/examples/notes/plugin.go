// Package notes is an example plugin. It keeps short notes about lifecycle events
// and presents them on a page attached to the host window.
package notes

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/leeforge/lifecycle/hooks"
	"github.com/leeforge/lifecycle/plugin"
	"go.uber.org/zap"
)

//go:embed manifest.yaml
var manifestYAML []byte

// Manifest returns the plugin's bundled manifest.
func Manifest() (*plugin.Manifest, error) {
	return plugin.ParseManifest(manifestYAML, "yaml")
}

// New is the plugin factory.
func New(m *plugin.Manifest) (any, error) {
	return &NotesPlugin{manifest: m}, nil
}

// Host, when set, is the window the plugin attaches its page to.
var Host *plugin.HostWindow

func init() {
	hooks.MustRegister("notes.ui", "ready", onUIReady)
	hooks.MustRegister("notes.ui", "farewell", farewell)
}

// NotesPlugin records lifecycle events of every plugin as notes.
//
// Implements: Initializer, Enabler, Disableable, EventSubscriber
type NotesPlugin struct {
	manifest *plugin.Manifest
	logger   *zap.Logger
	service  *NoteService
	greeting string
}

func (p *NotesPlugin) Init(ctx context.Context, app *plugin.AppContext) error {
	p.logger = app.Logger
	p.service = NewNoteService(app.Config.GetInt("max_notes", 100))
	p.greeting = app.Config.GetString("greeting", "notes ready")
	return nil
}

func (p *NotesPlugin) Enable(ctx context.Context, app *plugin.AppContext) error {
	p.service.Add("lifecycle", p.greeting)
	return nil
}

func (p *NotesPlugin) Disable(ctx context.Context, app *plugin.AppContext) error {
	p.logger.Info("notes plugin: flushing notes", zap.Int("count", p.service.Len()))
	return nil
}

func (p *NotesPlugin) SubscribeEvents(bus plugin.EventBus) {
	topics := []string{
		plugin.EventPluginLoaded, plugin.EventPluginUnloaded,
		plugin.EventPluginFailed, plugin.EventPluginDisabled,
	}
	for _, topic := range topics {
		bus.Subscribe(topic, func(ctx context.Context, e plugin.Event) error {
			p.service.Add(topic, fmt.Sprintf("%s (%s)", e.PluginID, e.Stage))
			return nil
		})
	}
}

// Service returns the note store, nil before Init.
func (p *NotesPlugin) Service() *NoteService {
	return p.service
}

// --- Hooks ---

// Prepare runs before Init.
func (p *NotesPlugin) Prepare(ctx context.Context, hc plugin.HookContext) error {
	if app := hc.App(); app != nil && !app.Config.GetBool("enabled", true) {
		return fmt.Errorf("notes plugin is disabled in settings")
	}
	return nil
}

// AttachUI registers the notes page with the lifecycle manager. It runs on the UI goroutine.
func (p *NotesPlugin) AttachUI(ctx context.Context, hc plugin.HookContext) error {
	app := hc.App()
	if app == nil {
		return fmt.Errorf("attach ui: no app context")
	}
	page := newPage(p.service)
	app.Lifecycle.RegisterUIIntegration(app.PluginID, page, Host)
	go func() {
		page.render()
		app.Lifecycle.SignalUIReady(app.PluginID)
	}()
	return nil
}

// DetachUI hides the page before the plugin is disabled.
func (p *NotesPlugin) DetachUI(ctx context.Context, hc plugin.HookContext) error {
	if page, ok := hc.UIIntegration().(*Page); ok {
		page.hide()
	}
	return nil
}

func onUIReady(ctx context.Context, hc plugin.HookContext) <-chan plugin.HookResult {
	out := make(chan plugin.HookResult, 1)
	page, _ := hc.UIIntegration().(*Page)
	go func() {
		defer close(out)
		if page == nil {
			out <- plugin.HookResult{Err: fmt.Errorf("ui ready without a notes page")}
			return
		}
		page.focus()
		out <- plugin.HookResult{Value: page.Title()}
	}()
	return out
}

func farewell(hc plugin.HookContext) error {
	if app := hc.App(); app != nil {
		app.Logger.Info("notes plugin unloaded")
	}
	return nil
}

// --- Internal ---

// Note is one recorded line.
type Note struct {
	Topic string
	Text  string
	At    time.Time
}

// NoteService is a bounded in-memory note store.
type NoteService struct {
	mu    sync.RWMutex
	max   int
	notes []Note
}

func NewNoteService(limit int) *NoteService {
	if limit <= 0 {
		limit = 100
	}
	return &NoteService{max: limit}
}

func (s *NoteService) Add(topic, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, Note{Topic: topic, Text: text, At: time.Now()})
	if over := len(s.notes) - s.max; over > 0 {
		s.notes = append(s.notes[:0:0], s.notes[over:]...)
	}
}

func (s *NoteService) List() []Note {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Note(nil), s.notes...)
}

func (s *NoteService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notes)
}

var (
	_ plugin.Initializer     = (*NotesPlugin)(nil)
	_ plugin.Enabler         = (*NotesPlugin)(nil)
	_ plugin.Disableable     = (*NotesPlugin)(nil)
	_ plugin.EventSubscriber = (*NotesPlugin)(nil)
)
