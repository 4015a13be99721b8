/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package alert

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sample() Alert {
	return Alert{
		RunID:    "00000000-0000-0000-0000-000000000000",
		TsUnix:   1700000000,
		Pid:      100,
		Process:  `C:\attacker.exe`,
		Target:   `C:\Users\a\AppData\Local\Google\Chrome\User Data\Default\Login Data`,
		DataName: "Chrome Passwords",
		EventID:  12,
		Kind:     KindProtectedResourceAccess,
		Note:     "untrusted process attempted access to protected resource",
	}
}

func TestHumanLine(t *testing.T) {
	ln := sample().HumanLine()
	require.Contains(t, ln, "pid=100")
	require.Contains(t, ln, "kind=protected_resource_access")
	require.Contains(t, ln, "data=Chrome Passwords")
}

func TestMarshalJSONLine(t *testing.T) {
	b, err := sample().MarshalJSONLine()
	require.NoError(t, err)

	var round Alert
	require.NoError(t, json.Unmarshal(b, &round))
	require.Equal(t, sample(), round)
}

func TestSinkWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, true, 64, nil)
	require.NoError(t, err)

	a := sample()
	for i := 0; i < 5; i++ {
		require.True(t, s.Send(a))
	}
	require.NoError(t, s.Close())

	b, err := os.ReadFile(filepath.Join(dir, "alerts.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	require.Len(t, lines, 5)
	for _, l := range lines {
		var got Alert
		require.NoError(t, json.Unmarshal([]byte(l), &got))
		require.Equal(t, a.DataName, got.DataName)
	}
}

func TestSinkHumanFormat(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, false, 64, nil)
	require.NoError(t, err)
	require.True(t, s.Send(sample()))
	require.NoError(t, s.Close())

	b, err := os.ReadFile(filepath.Join(dir, "alerts.log"))
	require.NoError(t, err)
	require.Contains(t, string(b), "kind=protected_resource_access")
}

func TestSendAfterCloseReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, true, 64, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.False(t, s.Send(sample()))
}

func TestSendNeverBlocks(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, true, 64, nil)
	require.NoError(t, err)
	defer s.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			s.Send(sample())
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Send appears to have blocked")
	}
}
