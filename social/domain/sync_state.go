package domain

import "fmt"

// SyncState tracks how far a locally authored entity has made it to the
// remote store.
type SyncState string

const (
	// Local exists only on this device, or has unpushed edits.
	Local SyncState = "local"
	// Syncing is being pushed by the sync coordinator right now.
	Syncing SyncState = "syncing"
	// Synced matches what the remote store confirmed.
	Synced SyncState = "synced"
)

// PendingSync reports whether the entity still needs a push. Syncing counts as
// pending: a crash mid-push leaves the row in Syncing and it must be retried.
func (s SyncState) PendingSync() bool {
	return s != Synced
}

// ParseSyncState validates a stored value.
func ParseSyncState(s string) (SyncState, error) {
	switch st := SyncState(s); st {
	case Local, Syncing, Synced:
		return st, nil
	}
	return "", fmt.Errorf("unknown sync state %q", s)
}
