package sync

import "github.com/tonimelisma/ledgersync/internal/ledger"

// Resolve merges a local record with the remote copy of the same local id.
// Record-level last writer wins: the side with the newer updatedAt is kept
// whole. On equal updatedAt the local copy wins.
//
// The result always keeps the local surrogate id, prefers the local remote
// id (falling back to the remote one), and is marked synced at now. Inputs
// are never modified.
func Resolve[E ledger.Entity[E]](local, remote E, now int64) E {
	l, r := local.State(), remote.State()

	var out E
	if l.UpdatedAt >= r.UpdatedAt {
		out = local.Clone()
	} else {
		out = remote.Clone()
		st := out.State()
		st.ID = l.ID
		st.LocalID = l.LocalID
		st.TenantID = l.TenantID
	}

	remoteID := l.RemoteID
	if !l.HasRemoteID() {
		remoteID = r.RemoteID
	}

	out.State().MarkSynced(remoteID, now)

	return out
}
