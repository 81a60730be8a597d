package domain

// SnapshotStore persists the store's contents. Save is invoked after every
// state transition and must replace the previous snapshot atomically;
// Load restores at startup.
type SnapshotStore interface {
	Save(snap Snapshot) error
	Load() (*Snapshot, error)
	Close() error
}
