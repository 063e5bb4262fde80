package plugin

// Stage is the fine-grained lifecycle phase of a plugin.
// Stages form an ordered set; no linear progression is enforced between them.
type Stage int

const (
	StageDiscovered   Stage = iota // Known to discovery, nothing loaded
	StageLoading                   // Registry is loading plugin code
	StageInitializing              // Init hooks are running
	StageInitialized               // Init finished, not yet enabled
	StageUIReady                   // Plugin signalled its UI is attached
	StageActive                    // Enabled and running
	StageDisabling                 // Disable hooks are running
	StageInactive                  // Unloaded, may be loaded again
	StageFailed                    // A load or enable step failed
)

// String returns a human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageDiscovered:
		return "discovered"
	case StageLoading:
		return "loading"
	case StageInitializing:
		return "initializing"
	case StageInitialized:
		return "initialized"
	case StageUIReady:
		return "ui_ready"
	case StageActive:
		return "active"
	case StageDisabling:
		return "disabling"
	case StageInactive:
		return "inactive"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTransient returns true while the plugin is between two stable stages.
func (s Stage) IsTransient() bool {
	return s == StageLoading || s == StageInitializing || s == StageDisabling
}

// CoarseState is the simplified state used to orchestrate load, unload and disable requests.
type CoarseState string

const (
	StateDiscovered CoarseState = "discovered"
	StateLoading    CoarseState = "loading"
	StateInactive   CoarseState = "inactive"
	StateActive     CoarseState = "active"
	StateDisabled   CoarseState = "disabled"
)

// ParseCoarseState converts a string into a CoarseState.
func ParseCoarseState(s string) (CoarseState, bool) {
	switch st := CoarseState(s); st {
	case StateDiscovered, StateLoading, StateInactive, StateActive, StateDisabled:
		return st, true
	default:
		return "", false
	}
}

func (s CoarseState) String() string { return string(s) }
