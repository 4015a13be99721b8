/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package etwsrc

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	starts  []uint32
	accesses []uint32
}

func (r *recordingSink) OnProcessStart(pid uint32, image, cmdline string) { r.starts = append(r.starts, pid) }
func (r *recordingSink) OnFileAccess(pid uint32, eventID uint16, fileKey, fileObject uint64, inlineName string) {
	r.accesses = append(r.accesses, pid)
}

func TestStartOnUnsupportedPlatformIsStub(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("only exercises the non-windows stub")
	}
	_, err := Start(&recordingSink{})
	require.ErrorIs(t, err, ErrUnsupportedPlatform)
}
