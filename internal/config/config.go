/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package config loads and hot-reloads the monitor's INI configuration:
// general options, the protected-resource rule table, and the trust
// allowlists (spec surface documented in SPEC_FULL.md §5.1/§7).
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/gravwell/gcfg"
)

const (
	// maxConfigSize is a sanity guard against handing gcfg a garbage file.
	maxConfigSize int64 = 2 * 1024 * 1024

	defaultSuppressMS  uint64 = 1500
	defaultLogMaxMB    int64  = 64
	maxSaneSuppressMS  uint64 = 24 * 60 * 60 * 1000 // 24h, a config typo guard
)

var (
	ErrConfigFileTooLarge   = errors.New("config file far too large")
	ErrNoProtectedRules     = errors.New("no protected resources configured")
	ErrInvalidSuppressWindow = errors.New("invalid suppress window")
)

// Rule is a single protected-resource rule: a lower-cased substring and the
// display name reported in alerts that match it (spec.md §3 ProtectedRule).
type Rule struct {
	Substring string
	Name      string
}

// Config is the monitor's resolved, validated runtime configuration.
type Config struct {
	Quiet    bool
	JSONL    bool
	Suppress time.Duration

	LogFile  string
	LogMaxMB int64
	Toast    bool
	Reload   bool

	Rules []Rule

	SignerSubjectAllow []string
	ProcessNameAllow   []string
}

type generalSection struct {
	Quiet       bool
	JSONL       bool
	Suppress_MS uint64
	Log_File    string
	Log_Max_MB  int64
	Toast       bool
	Reload      bool
}

type watchSection struct {
	Protected           []string
	Protected_Substring []string
}

type allowlistSection struct {
	Signer_Subject_Allow []string
	Process_Name_Allow   []string
}

type fileFormat struct {
	General   generalSection
	Watch     watchSection
	Allowlist allowlistSection
}

func defaults() fileFormat {
	return fileFormat{
		General: generalSection{
			Quiet:       true,
			JSONL:       true,
			Suppress_MS: defaultSuppressMS,
			Log_Max_MB:  defaultLogMaxMB,
			Toast:       runtime.GOOS == `windows`,
			Reload:      true,
		},
	}
}

// Load reads, parses and validates the config file at path.
func Load(path string) (*Config, error) {
	content, err := readBounded(path)
	if err != nil {
		return nil, err
	}
	ff := defaults()
	if err := gcfg.ReadStringInto(&ff, string(content)); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return build(ff)
}

func readBounded(path string) ([]byte, error) {
	fin, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fin.Close()

	fi, err := fin.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() > maxConfigSize {
		return nil, ErrConfigFileTooLarge
	}
	buf := make([]byte, fi.Size())
	if n, err := fin.Read(buf); err != nil {
		return nil, err
	} else if int64(n) != fi.Size() {
		return nil, fmt.Errorf("short read on %s: got %d of %d bytes", path, n, fi.Size())
	}
	return buf, nil
}

func build(ff fileFormat) (*Config, error) {
	if ff.General.Suppress_MS > maxSaneSuppressMS {
		return nil, ErrInvalidSuppressWindow
	}

	rules, err := buildRules(ff.Watch)
	if err != nil {
		return nil, err
	}

	c := &Config{
		Quiet:              ff.General.Quiet,
		JSONL:              ff.General.JSONL,
		Suppress:           time.Duration(ff.General.Suppress_MS) * time.Millisecond,
		LogFile:            ff.General.Log_File,
		LogMaxMB:           ff.General.Log_Max_MB,
		Toast:              ff.General.Toast,
		Reload:             ff.General.Reload,
		Rules:              rules,
		SignerSubjectAllow: foldAll(ff.Allowlist.Signer_Subject_Allow),
		ProcessNameAllow:   foldAll(ff.Allowlist.Process_Name_Allow),
	}
	return c, nil
}

// buildRules expands Protected/Protected-Substring into the rule table,
// folding every substring to lower case exactly once (spec.md §3 invariant).
// Protected-Substring is the legacy form and only applies when Protected is
// empty, matching the original source's config.rs::load precedence.
func buildRules(w watchSection) ([]Rule, error) {
	var rules []Rule
	if len(w.Protected) > 0 {
		for _, raw := range w.Protected {
			sub, name, ok := strings.Cut(raw, `|`)
			if !ok {
				return nil, fmt.Errorf("malformed Protected entry %q, want substring|name", raw)
			}
			rules = append(rules, Rule{Substring: strings.ToLower(sub), Name: name})
		}
	} else {
		for _, sub := range w.Protected_Substring {
			rules = append(rules, Rule{Substring: strings.ToLower(sub), Name: sub})
		}
	}
	if len(rules) == 0 {
		return nil, ErrNoProtectedRules
	}
	return rules, nil
}

func foldAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
