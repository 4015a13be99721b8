/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package etwsrc is the Event Source (C3, spec.md §4 / §6.1): it owns the
// kernel Process and File-IO ETW trace session and demuxes raw records into
// the normalized calls the engine expects. The platform split lives in
// source_windows.go / source_other.go.
package etwsrc

import "errors"

// ErrUnsupportedPlatform is returned by Start on any OS without a kernel
// ETW provider, i.e. everything but Windows.
var ErrUnsupportedPlatform = errors.New("etwsrc: kernel event tracing is only supported on windows")

// TraceName is the ETW session name this monitor registers under.
const TraceName = "TITAN-Operative-CE"

// Kernel provider GUIDs this source subscribes to (spec.md §6.1).
const (
	KernelProcessProviderGUID = "22fb2cd6-0e7b-422b-a0c7-2fad1fd0e716"
	KernelFileProviderGUID    = "edd08927-9cc4-4e65-b970-c2560fb5c289"
)

// Sink receives normalized events demuxed off the kernel trace. It is
// satisfied by *engine.Engine: OnProcessStart has the engine's exact
// signature, and OnFileAccess is called for every file-provider record
// (bind/close/access alike) since the engine owns the full event-id
// dispatch (spec.md §4.1 / DESIGN.md "implementation notes").
type Sink interface {
	OnProcessStart(pid uint32, image string, cmdline string)
	OnFileAccess(pid uint32, eventID uint16, fileKey, fileObject uint64, inlineName string)
}

// Session is a running kernel trace subscription.
type Session interface {
	Close() error
}

// Start opens the kernel trace session and begins dispatching records to
// sink until Close is called.
func Start(sink Sink) (Session, error) {
	return startTrace(sink)
}
