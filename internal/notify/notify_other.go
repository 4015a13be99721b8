//go:build !windows

/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package notify

import "github.com/titan-softwork/vigil-go/internal/alert"

type noopNotifier struct{}

func newPlatformNotifier() Notifier {
	return noopNotifier{}
}

// Notify has no desktop-shell equivalent off Windows.
func (noopNotifier) Notify(a alert.Alert) {}
