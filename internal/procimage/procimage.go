/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package procimage resolves running pids to their executable image path
// and enumerates live pids, satisfying engine.ImageResolver and
// engine.ProcessLister (spec.md §4.3 / §6.4).
package procimage

import (
	"github.com/shirou/gopsutil/v4/process"
)

// Resolver is the cross-platform fallback implementation, backed by
// gopsutil. A Windows build additionally tries a direct syscall fast path
// first (procimage_windows.go) since gopsutil's per-pid cost matters on the
// hot TTL-miss path described in SPEC_FULL.md §5.5.
type Resolver struct{}

// New returns a process image resolver for the current platform.
func New() *Resolver {
	return &Resolver{}
}

// ImagePath resolves pid to its executable path. pid 0 and 4 are the
// Windows idle/System pseudo-processes and are reported as "SYSTEM"
// without a lookup, matching process.rs::get_process_image_path.
func (r *Resolver) ImagePath(pid uint32) (string, bool) {
	if pid == 0 || pid == 4 {
		return "SYSTEM", true
	}
	if path, ok := fastImagePath(pid); ok {
		return path, true
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return "", false
	}
	exe, err := p.Exe()
	if err != nil || exe == "" {
		return "", false
	}
	return exe, true
}

// ListPids enumerates every live pid on the system, used by
// PreflightTrustedHandles (spec.md §4 C2) to seed the initial trusted
// handle snapshot.
func (r *Resolver) ListPids() ([]uint32, error) {
	if pids, ok := fastListPids(); ok {
		return pids, nil
	}
	pids, err := process.Pids()
	if err != nil {
		return nil, err
	}
	out := make([]uint32, len(pids))
	for i, p := range pids {
		out[i] = uint32(p)
	}
	return out, nil
}
