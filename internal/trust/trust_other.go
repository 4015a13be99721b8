//go:build !windows

/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package trust

// verifyFileSignature has no Authenticode equivalent off Windows. It fails
// closed: every path is reported unsigned, per spec.md §4.7.
func verifyFileSignature(path string) Result {
	return Result{}
}
