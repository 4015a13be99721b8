//go:build !windows

/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package procimage

// fastImagePath and fastListPids have no portable equivalent; non-Windows
// builds always fall back to gopsutil.
func fastImagePath(pid uint32) (string, bool) { return "", false }
func fastListPids() ([]uint32, bool)          { return nil, false }
