/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package handles implements the kernel handle-table snapshotter
// (spec.md §4 C2 / §6.3): for a given set of trusted pids, it returns every
// kernel file object they hold a handle to, so the engine can recognize a
// duped/inherited handle later being used by an untrusted process.
package handles

// Snapshotter satisfies engine.HandleSnapshotter. The platform split lives
// in handles_windows.go / handles_other.go.
type Snapshotter struct{}

// New returns a handle snapshotter for the current platform.
func New() *Snapshotter {
	return &Snapshotter{}
}

// Snapshot returns, for every file-type kernel object held open by any of
// pids, the set of pids holding a handle to it.
func (s *Snapshotter) Snapshot(pids []uint32) (map[uint64]map[uint32]struct{}, error) {
	return collectFileObjectsForPIDs(pids)
}
