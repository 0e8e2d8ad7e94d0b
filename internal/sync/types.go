package sync

import "time"

// SyncMode controls which sides of the sync are active.
type SyncMode int

// Sync direction modes.
const (
	SyncBidirectional SyncMode = iota
	SyncDownloadOnly
	SyncUploadOnly
)

func (m SyncMode) String() string {
	switch m {
	case SyncBidirectional:
		return "bidirectional"
	case SyncDownloadOnly:
		return "download-only"
	case SyncUploadOnly:
		return "upload-only"
	default:
		return "unknown"
	}
}

// RunOpts holds per-pass options.
type RunOpts struct {
	Mode SyncMode
	// Initial ignores persisted watermarks and downloads every document.
	Initial bool
}

// WatchOpts holds the options for RunWatch.
type WatchOpts struct {
	RunOpts

	// PollInterval is the period between passes. Zero means defaultPollInterval.
	PollInterval time.Duration
	// WatchDir, when set, triggers an early pass after writes in that
	// directory (the local database directory).
	WatchDir string
	// Debounce coalesces bursts of local writes. Zero means defaultDebounce.
	Debounce time.Duration
}
