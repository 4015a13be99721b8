/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "vigil.ini")
	require.NoError(t, os.WriteFile(p, []byte(content), 0640))
	return p
}

func TestLoadDefaults(t *testing.T) {
	p := writeTemp(t, `
[Watch]
Protected-Substring=\Login Data
`)
	c, err := Load(p)
	require.NoError(t, err)
	require.True(t, c.Quiet)
	require.True(t, c.JSONL)
	require.Equal(t, 1500*time.Millisecond, c.Suppress)
	require.Len(t, c.Rules, 1)
	require.Equal(t, `\login data`, c.Rules[0].Substring)
	require.Equal(t, `\Login Data`, c.Rules[0].Name)
}

func TestProtectedTakesPrecedenceOverLegacy(t *testing.T) {
	p := writeTemp(t, `
[Watch]
Protected=\login data|Chrome Passwords
Protected-Substring=\ignored\
`)
	c, err := Load(p)
	require.NoError(t, err)
	require.Len(t, c.Rules, 1)
	require.Equal(t, `Chrome Passwords`, c.Rules[0].Name)
	require.Equal(t, `\login data`, c.Rules[0].Substring)
}

func TestNoProtectedRulesIsError(t *testing.T) {
	p := writeTemp(t, `
[General]
Quiet=true
`)
	_, err := Load(p)
	require.ErrorIs(t, err, ErrNoProtectedRules)
}

func TestAllowlistFolding(t *testing.T) {
	p := writeTemp(t, `
[Watch]
Protected-Substring=\Cookies

[Allowlist]
Signer-Subject-Allow=Microsoft Windows
Process-Name-Allow=\Explorer.EXE
`)
	c, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, []string{`microsoft windows`}, c.SignerSubjectAllow)
	require.Equal(t, []string{`\explorer.exe`}, c.ProcessNameAllow)
}

func TestConfigFileTooLarge(t *testing.T) {
	p := filepath.Join(t.TempDir(), "huge.ini")
	f, err := os.Create(p)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(3*1024*1024))
	require.NoError(t, f.Close())

	_, err = Load(p)
	require.ErrorIs(t, err, ErrConfigFileTooLarge)
}

func TestMalformedProtectedEntry(t *testing.T) {
	p := writeTemp(t, `
[Watch]
Protected=no-pipe-here
`)
	_, err := Load(p)
	require.Error(t, err)
}
