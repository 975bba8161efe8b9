package models

// SyncState is the per-memory position in the sync state machine:
//
//	local_only   -> pending_push  (promotion)
//	pending_push -> synced        (push accepted)
//	synced       -> pending_push  (local edit of a shared record)
//	synced       -> conflict      (both sides changed since last sync)
//	conflict     -> synced | pending_push (explicit resolution)
type SyncState string

const (
	SyncLocalOnly   SyncState = "local_only"
	SyncPendingPush SyncState = "pending_push"
	SyncSynced      SyncState = "synced"
	SyncConflict    SyncState = "conflict"
)

// ValidSyncStates is the set of all valid sync states.
var ValidSyncStates = []SyncState{
	SyncLocalOnly,
	SyncPendingPush,
	SyncSynced,
	SyncConflict,
}

// IsValid returns true if the sync state is recognized.
func (s SyncState) IsValid() bool {
	for _, v := range ValidSyncStates {
		if s == v {
			return true
		}
	}
	return false
}

// InitialSyncState is the state of a freshly created memory.
func InitialSyncState(importance, threshold int) SyncState {
	if importance >= threshold {
		return SyncPendingPush
	}
	return SyncLocalOnly
}

// UpdateChange describes a local edit for the purpose of sync transitions.
type UpdateChange struct {
	OldImportance  int
	NewImportance  int
	ContentChanged bool // title, content, type, tags or visibility changed
	HasRemote      bool
}

// AfterLocalUpdate returns the state a memory moves to after a local edit.
// Conflicts are left alone until resolved explicitly, and no edit ever demotes.
func (s SyncState) AfterLocalUpdate(ch UpdateChange, threshold int) SyncState {
	switch s {
	case SyncConflict, SyncPendingPush:
		return s
	case SyncLocalOnly:
		if ch.NewImportance >= threshold && ch.OldImportance < threshold {
			return SyncPendingPush
		}
		if ch.NewImportance >= threshold && ch.ContentChanged {
			return SyncPendingPush
		}
		return s
	case SyncSynced:
		if ch.ContentChanged && ch.HasRemote {
			return SyncPendingPush
		}
		if ch.NewImportance >= threshold && ch.OldImportance < threshold {
			return SyncPendingPush
		}
		return s
	}
	return s
}

// AfterPush returns the state after a successful push.
func (s SyncState) AfterPush() SyncState {
	if s == SyncConflict {
		return s
	}
	return SyncSynced
}

// AfterRemoteChange returns the state after pull observed a newer remote version.
// Only a record whose pushed fields were edited locally since the last sync becomes a
// conflict; a pending push that changed nothing the remote holds, such as a promotion
// by importance alone, takes the remote version and is synced.
func (s SyncState) AfterRemoteChange(modifiedLocally bool) SyncState {
	if s == SyncConflict {
		return s
	}
	if modifiedLocally {
		return SyncConflict
	}
	return SyncSynced
}

// Resolution is an explicit caller decision for a conflicted memory.
type Resolution string

const (
	ResolveKeepLocal  Resolution = "keep_local"
	ResolveKeepRemote Resolution = "keep_remote"
)

// IsValid returns true if the resolution is recognized.
func (r Resolution) IsValid() bool {
	return r == ResolveKeepLocal || r == ResolveKeepRemote
}

// AfterResolve returns the state after a conflict is resolved.
func (r Resolution) AfterResolve() SyncState {
	if r == ResolveKeepLocal {
		return SyncPendingPush
	}
	return SyncSynced
}
