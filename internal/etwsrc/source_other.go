//go:build !windows

/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package etwsrc

// startTrace has no kernel ETW equivalent off Windows.
func startTrace(sink Sink) (Session, error) {
	return nil, ErrUnsupportedPlatform
}
