//go:build !windows

/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package handles

// collectFileObjectsForPIDs has no equivalent off Windows; there is no
// kernel handle table to enumerate, so it always reports no whitelisted
// file objects.
func collectFileObjectsForPIDs(trustedPIDs []uint32) (map[uint64]map[uint32]struct{}, error) {
	return map[uint64]map[uint32]struct{}{}, nil
}
