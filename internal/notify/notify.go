/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package notify implements the desktop notification surface described in
// spec.md §5/§6.5: a per-pid gated balloon tip fired alongside each alert.
// SPEC_FULL.md §5.4 replaces the original's WinRT toast with a classic
// Shell_NotifyIconW balloon, since WinRT toast requires COM/XAML interop
// impractical without cgo; the platform split lives in notify_windows.go /
// notify_other.go.
package notify

import (
	"strings"

	"github.com/titan-softwork/vigil-go/internal/alert"
)

// Notifier surfaces an alert to the desktop.
type Notifier interface {
	Notify(a alert.Alert)
}

// New returns a notifier for the current platform.
func New() Notifier {
	return newPlatformNotifier()
}

// exeBasename strips a Windows or POSIX directory prefix, grounded on
// notify.rs::exe_basename.
func exeBasename(s string) string {
	if i := strings.LastIndexByte(s, '\\'); i >= 0 {
		return s[i+1:]
	}
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// verbFromEvent renders the alert's access event as a short verb,
// grounded on notify.rs::verb_from_event.
func verbFromEvent(eventID uint16) string {
	if eventID == 12 {
		return "accessed"
	}
	return "touched"
}

func headline(a alert.Alert) string {
	return exeBasename(a.Process) + " " + verbFromEvent(a.EventID) + " " + a.DataName
}
