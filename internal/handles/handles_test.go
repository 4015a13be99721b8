/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package handles

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotNeverReturnsNilMap(t *testing.T) {
	s := New()
	m, err := s.Snapshot([]uint32{1, 2, 3})
	require.NoError(t, err)
	require.NotNil(t, m)
}
