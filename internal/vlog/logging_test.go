/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package vlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testFile = `test.log`

var tempdir string

func TestMain(m *testing.M) {
	var err error
	if tempdir, err = os.MkdirTemp(os.TempDir(), ``); err != nil {
		fmt.Println("failed to create temp dir", err)
		os.Exit(-1)
	}
	r := m.Run()
	os.RemoveAll(tempdir)
	os.Exit(r)
}

func newLogger(t *testing.T) (*Logger, string) {
	p := filepath.Join(tempdir, testFile)
	fout, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	return New(fout), p
}

func TestLevelGating(t *testing.T) {
	l, p := newLogger(t)
	if err := l.SetLevel(WARN); err != nil {
		t.Fatal(err)
	}
	l.Infof("should not appear")
	l.Warnf("should appear %d", 1)
	l.Close()

	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "should not appear") {
		t.Fatal("INFO line leaked below WARN level gate")
	}
	if !strings.Contains(string(b), "should appear 1") {
		t.Fatal("expected WARN line missing")
	}
}

func TestStructuredFields(t *testing.T) {
	l, p := newLogger(t)
	l.Error("file access denied", KV("pid", 100), KVErr(os.ErrPermission))
	l.Close()

	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	if !strings.Contains(out, "file access denied") {
		t.Fatal("message body missing")
	}
	if !strings.Contains(out, `pid="100"`) && !strings.Contains(out, "pid=100") {
		t.Fatalf("expected pid field in output: %s", out)
	}
}

func TestInvalidLevel(t *testing.T) {
	l, _ := newLogger(t)
	defer l.Close()
	if err := l.SetLevel(Level(99)); err != ErrInvalidLevel {
		t.Fatalf("expected ErrInvalidLevel, got %v", err)
	}
}

func TestCloseThenWriteIsNoop(t *testing.T) {
	l, p := newLogger(t)
	l.Close()
	l.Infof("after close")

	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 0 {
		t.Fatalf("expected no output after close, got %q", b)
	}
}
