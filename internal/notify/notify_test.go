/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package notify

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/titan-softwork/vigil-go/internal/alert"
)

func TestExeBasename(t *testing.T) {
	require.Equal(t, "chrome.exe", exeBasename(`C:\Users\a\chrome.exe`))
	require.Equal(t, "chrome", exeBasename("chrome"))
	require.Equal(t, "tool", exeBasename("/usr/bin/tool"))
}

func TestVerbFromEvent(t *testing.T) {
	require.Equal(t, "accessed", verbFromEvent(12))
	require.Equal(t, "touched", verbFromEvent(0))
	require.Equal(t, "touched", verbFromEvent(99))
}

func TestHeadline(t *testing.T) {
	a := alert.Alert{Process: `C:\attacker.exe`, EventID: 12, DataName: "Chrome Passwords"}
	require.Equal(t, "attacker.exe accessed Chrome Passwords", headline(a))
}

func TestNewReturnsUsableNotifier(t *testing.T) {
	n := New()
	require.NotNil(t, n)
	n.Notify(alert.Alert{Pid: 1234, Process: "x.exe", EventID: 12, DataName: "y"})
}
