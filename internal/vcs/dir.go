package vcs

// DirTree is a plain directory without version history.
type DirTree struct {
	*snapshot
}

// OpenDir lists root as a plain directory.
func OpenDir(root string, opts Options) (*DirTree, error) {
	s, err := newSnapshot(root, opts, nil)
	if err != nil {
		return nil, err
	}
	return &DirTree{snapshot: s}, nil
}

// Commit always reports the working state.
func (d *DirTree) Commit() string { return WorktreeCommit }

// ReadAt has no history to consult.
func (d *DirTree) ReadAt(string, string) ([]byte, error) { return nil, ErrNoHistory }
