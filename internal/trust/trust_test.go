/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package trust

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVerifyMissingFileIsUnsigned(t *testing.T) {
	o := New()
	signed, subject := o.Verify(filepath.Join(t.TempDir(), "does-not-exist.exe"))
	require.False(t, signed)
	require.Empty(t, subject)
}
