/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package alert

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func dropLineBytes(wtr io.Writer, bts int) (cnt int, err error) {
	var n int
	for n < bts {
		var written int
		if written, err = fmt.Fprintf(wtr, "%v line %d with some stuff in it\n", time.Now(), cnt); err != nil {
			break
		}
		n += written
		cnt++
	}
	return
}

func countFileLines(pth string) (int, error) {
	fin, err := os.Open(pth)
	if err != nil {
		return -1, err
	}
	defer fin.Close()
	if filepath.Ext(pth) == `.gz` {
		rdr, err := gzip.NewReader(fin)
		if err != nil {
			return -1, err
		}
		return countLines(rdr), nil
	}
	return countLines(fin), nil
}

func countLines(fin io.Reader) (cnt int) {
	rdr := bufio.NewReader(fin)
	for _, err := rdr.ReadSlice('\n'); err == nil; _, err = rdr.ReadSlice('\n') {
		cnt++
	}
	return
}

func TestRotatorRotatesAndCompressesOnSize(t *testing.T) {
	base := t.TempDir()
	pth := filepath.Join(base, "alerts.jsonl")

	var lines int
	fr, err := openRotator(pth, 0660, 32*1024, 3)
	require.NoError(t, err)
	lines, err = dropLineBytes(fr, 256*1024)
	require.NoError(t, err)
	require.NoError(t, fr.Close())

	// the current file should have rolled at least once, into a non-empty
	// compressed generation holding no more lines than were written.
	cnt, err := countFileLines(filepath.Join(base, "alerts.1.jsonl.gz"))
	require.NoError(t, err)
	require.Greater(t, cnt, 0)
	require.LessOrEqual(t, cnt, lines)
}

func TestRotatorReopenContinuesSizeTracking(t *testing.T) {
	base := t.TempDir()
	pth := filepath.Join(base, "alerts.jsonl")

	fr, err := openRotator(pth, 0660, 128*1024, 3)
	require.NoError(t, err)
	_, err = dropLineBytes(fr, 64*1024)
	require.NoError(t, err)
	require.NoError(t, fr.Close())

	// reopening should pick up the existing size rather than starting at 0.
	fr, err = openRotator(pth, 0660, 128*1024, 3)
	require.NoError(t, err)
	require.GreaterOrEqual(t, fr.currSize, int64(64*1024))
	require.NoError(t, fr.Close())
}

func TestRotatorKeepsBoundedHistory(t *testing.T) {
	base := t.TempDir()
	pth := filepath.Join(base, "alerts.jsonl")

	fr, err := openRotator(pth, 0660, 16*1024, 2)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		_, err = dropLineBytes(fr, 16*1024)
		require.NoError(t, err)
	}
	require.NoError(t, fr.Close())

	require.FileExists(t, filepath.Join(base, "alerts.1.jsonl.gz"))
	require.FileExists(t, filepath.Join(base, "alerts.2.jsonl.gz"))
	_, err = os.Stat(filepath.Join(base, "alerts.3.jsonl.gz"))
	require.True(t, os.IsNotExist(err))
}
