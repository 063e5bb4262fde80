package plugin

import "context"

// HostWindow identifies the top-level window a plugin attached its UI to.
// The lifecycle layer only keeps a weak reference to it and never controls its lifetime.
type HostWindow struct {
	ID    string
	Title string
	// Pages is the host-side page container, if the host exposes one.
	Pages PageHost
}

// PageHost is implemented by host integrations that present plugin pages.
type PageHost interface {
	RemovePage(ctx context.Context, pluginID string) error
}

// UI integration handles are opaque. During cleanup the lifecycle manager
// detects these optional capabilities via type assertion.

// ResourceReleaser -- a plugin-owned UI registry that holds widgets, actions, shortcuts.
type ResourceReleaser interface {
	ReleaseResources(ctx context.Context) error
}

// PageRemover -- removes the plugin's presented page from the host.
type PageRemover interface {
	RemovePage(ctx context.Context) error
}

// Cleaner -- the integration's own teardown.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}
