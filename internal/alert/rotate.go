/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package alert

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// logRotator is a small size-triggered, gzip-compressing rotator scoped to
// what the alert sink actually does: append whole newline-terminated lines
// to one file and roll it once it crosses maxSize, keeping maxHistory old
// generations compressed. Adapted down from the teacher's general-purpose
// ingest/log/rotate package (arbitrary extensions, optional compression,
// in-place history renumbering) since the sink only ever opens one of two
// fixed names (alerts.log / alerts.jsonl) and always compresses.
type logRotator struct {
	mtx        sync.Mutex
	pth        string
	perm       os.FileMode
	fout       *os.File
	currSize   int64
	maxSize    int64
	maxHistory int
}

func openRotator(pth string, perm os.FileMode, maxSize int64, maxHistory int) (*logRotator, error) {
	if maxSize <= 0 {
		maxSize = 64 * 1024 * 1024
	}
	if maxHistory <= 0 {
		maxHistory = 1
	}

	fout, sz, err := openRotatorFile(pth, perm)
	if err != nil {
		return nil, err
	}

	r := &logRotator{pth: pth, perm: perm, fout: fout, currSize: sz, maxSize: maxSize, maxHistory: maxHistory}
	if r.currSize >= r.maxSize {
		if err := r.rotate(); err != nil {
			r.fout.Close()
			return nil, fmt.Errorf("failed to rotate alert log %s: %w", pth, err)
		}
	}
	return r, nil
}

func openRotatorFile(pth string, perm os.FileMode) (*os.File, int64, error) {
	fout, err := os.OpenFile(pth, os.O_CREATE|os.O_APPEND|os.O_WRONLY, perm)
	if err != nil {
		return nil, 0, err
	}
	sz, err := fout.Seek(0, io.SeekEnd)
	if err != nil {
		fout.Close()
		return nil, 0, fmt.Errorf("failed to detect alert log size: %w", err)
	}
	return fout, sz, nil
}

// Write appends buf, rotating afterward if the file has crossed maxSize.
// Every call from the sink's consumer is already a whole line, so there is
// no partial-line case to guard the way a general-purpose rotator must.
func (r *logRotator) Write(buf []byte) (int, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	n, err := r.fout.Write(buf)
	if err != nil {
		return n, err
	}
	r.currSize += int64(n)
	if r.currSize >= r.maxSize {
		if rerr := r.rotateLocked(); rerr != nil {
			return n, rerr
		}
	}
	return n, nil
}

func (r *logRotator) Close() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.fout.Close()
}

func (r *logRotator) rotate() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.rotateLocked()
}

// rotateLocked shifts .1.gz..maxHistory-1.gz up by one slot (dropping the
// oldest), then compresses the current file into .1.gz and reopens it empty.
func (r *logRotator) rotateLocked() error {
	oldest := r.historyPath(r.maxHistory)
	if _, err := os.Stat(oldest); err == nil {
		if err := os.Remove(oldest); err != nil {
			return fmt.Errorf("failed to remove old alert log %s: %w", oldest, err)
		}
	}
	for i := r.maxHistory - 1; i >= 1; i-- {
		from, to := r.historyPath(i), r.historyPath(i+1)
		if _, err := os.Stat(from); err != nil {
			continue
		}
		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("failed to rotate %s -> %s: %w", from, to, err)
		}
	}

	if err := r.fout.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", r.pth, err)
	}
	if err := compressAndRemove(r.pth, r.historyPath(1), r.perm); err != nil {
		return err
	}

	fout, sz, err := openRotatorFile(r.pth, r.perm)
	if err != nil {
		return fmt.Errorf("failed to reopen %s: %w", r.pth, err)
	}
	r.fout, r.currSize = fout, sz
	return nil
}

// historyPath renders the n'th rotated generation, e.g. alerts.jsonl ->
// alerts.3.jsonl.gz.
func (r *logRotator) historyPath(n int) string {
	dir, file := filepath.Split(r.pth)
	ext := filepath.Ext(file)
	base := strings.TrimSuffix(file, ext)
	return filepath.Join(dir, fmt.Sprintf("%s.%d%s.gz", base, n, ext))
}

func compressAndRemove(src, dst string, perm os.FileMode) error {
	fin, err := os.Open(src)
	if err != nil {
		return err
	}

	fout, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		fin.Close()
		return err
	}
	defer fout.Close()

	wtr, err := gzip.NewWriterLevel(fout, gzip.BestCompression)
	if err != nil {
		fin.Close()
		return fmt.Errorf("failed to create gzip writer on %s: %w", dst, err)
	}
	_, cerr := io.Copy(wtr, fin)
	werr := wtr.Close()
	fin.Close() // must close before os.Remove below, notably on Windows

	if cerr != nil {
		return fmt.Errorf("failed to compress %s -> %s: %w", src, dst, cerr)
	}
	if werr != nil {
		return fmt.Errorf("failed to compress %s -> %s: %w", src, dst, werr)
	}
	return os.Remove(src)
}
