/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package engine is the correlation and trust engine: the in-memory state
// that fuses process-start, file-name-binding and file-access events with
// trust verification and kernel handle data to decide whether a file access
// is benign, suspicious-via-handle-reuse, or a direct violation.
//
// This is the core of the monitor (components C4-C9). Every operation,
// invariant and edge case below is load-bearing; see spec.md §4 for the
// contract this package implements.
package engine

import (
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/titan-softwork/vigil-go/internal/alert"
	"github.com/titan-softwork/vigil-go/internal/config"
)

const (
	imageTTL = 10 * time.Second
	trustTTL = 60 * time.Second

	// dedupCap and dedupRetainMultiple implement spec.md §4.6's bound on the
	// last-alert dedup map.
	dedupCap             = 50_000
	dedupRetainMultiple  = 8
)

// File-provider event ids the engine dispatches on (spec.md §4.1, §6.1).
const (
	EventFileNameBind = 0
	EventFileAccess   = 12
	EventFileClose1   = 65
	EventFileClose2   = 66
)

// TrustOracle is the Trust Oracle external collaborator (C1, spec.md §6.2).
type TrustOracle interface {
	Verify(path string) (signed bool, signerSubject string)
}

// ImageResolver resolves a pid to its full image path (backs spec.md §4.3).
// ok is false when the OS lookup fails; the engine then records "unknown".
type ImageResolver interface {
	ImagePath(pid uint32) (path string, ok bool)
}

// ProcessLister enumerates live pids, used only by PreflightTrustedHandles.
type ProcessLister interface {
	ListPids() ([]uint32, error)
}

// HandleSnapshotter is the Handle Snapshotter external collaborator (C2,
// spec.md §6.3): a snapshot of file_object -> owning pids, restricted to a
// pid set.
type HandleSnapshotter interface {
	Snapshot(pids []uint32) (map[uint64]map[uint32]struct{}, error)
}

// Sink is the alert dispatch boundary (spec.md §6.4). Send returns false once
// the sink is closed/terminal; the engine then stops accepting new events
// (spec.md §4.7).
type Sink interface {
	Send(alert.Alert) bool
}

// ProcMeta is one per-pid cache entry (spec.md §3).
type ProcMeta struct {
	Image         string
	ObservedAt    time.Time
	IsTrusted     bool
	SignerSubject string
}

// Engine owns the five maps exclusively; every other component is a
// stateless transform or external collaborator (spec.md §3 "Ownership").
type Engine struct {
	trust   TrustOracle
	images  ImageResolver
	procs   ProcessLister
	handles HandleSnapshotter
	sink    Sink

	runID string

	cfgMtx sync.RWMutex
	rules  []config.Rule
	signerSubjectAllow []string
	processNameAllow   []string
	suppress           time.Duration

	procMtx   sync.Mutex
	procCache map[uint32]ProcMeta

	fileKeyMtx sync.Mutex
	fileKeys   map[uint64]string

	wlMtx sync.Mutex
	wl    map[uint64]map[uint32]struct{}

	alertMtx  sync.Mutex
	lastAlert map[uint64]time.Time

	terminal atomic.Bool
}

// Deps bundles the Engine's external collaborators.
type Deps struct {
	Trust   TrustOracle
	Images  ImageResolver
	Procs   ProcessLister
	Handles HandleSnapshotter
	Sink    Sink
}

// New builds an Engine from its initial configuration and run id. RunID is
// stamped onto every alert this engine instance emits (SPEC_FULL.md §3).
func New(cfg *config.Config, runID string, deps Deps) *Engine {
	e := &Engine{
		trust:              deps.Trust,
		images:             deps.Images,
		procs:              deps.Procs,
		handles:            deps.Handles,
		sink:               deps.Sink,
		runID:              runID,
		rules:              cfg.Rules,
		signerSubjectAllow: cfg.SignerSubjectAllow,
		processNameAllow:   cfg.ProcessNameAllow,
		suppress:           cfg.Suppress,
		procCache:          make(map[uint32]ProcMeta),
		fileKeys:           make(map[uint64]string),
		wl:                 make(map[uint64]map[uint32]struct{}),
		lastAlert:          make(map[uint64]time.Time),
	}
	return e
}

// ReloadRules atomically swaps the rule table and allowlists, supplementing
// the original source (which only ever loaded config once) with hot reload
// (SPEC_FULL.md §5.1). Engine state (the five maps above) is untouched.
func (e *Engine) ReloadRules(cfg *config.Config) {
	e.cfgMtx.Lock()
	defer e.cfgMtx.Unlock()
	e.rules = cfg.Rules
	e.signerSubjectAllow = cfg.SignerSubjectAllow
	e.processNameAllow = cfg.ProcessNameAllow
	e.suppress = cfg.Suppress
}

func (e *Engine) isTerminal() bool {
	return e.terminal.Load()
}

// PreflightTrustedHandles enumerates live pids, computes trust for each, and
// seeds the Whitelisted File-Object Registry from the Handle Snapshotter
// restricted to the trusted subset (spec.md §4.1 op 6).
func (e *Engine) PreflightTrustedHandles() error {
	if e.procs == nil || e.handles == nil {
		return nil
	}
	pids, err := e.procs.ListPids()
	if err != nil {
		return err
	}

	var trustedPids []uint32
	for _, pid := range pids {
		img, ok := e.images.ImagePath(pid)
		if !ok {
			continue
		}
		signed, subject, trusted := e.trustForPath(img)
		if trusted {
			e.procMtx.Lock()
			e.procCache[pid] = ProcMeta{
				Image:         img,
				ObservedAt:    time.Now(),
				IsTrusted:     signed && trusted,
				SignerSubject: subject,
			}
			e.procMtx.Unlock()
			trustedPids = append(trustedPids, pid)
		}
	}
	if len(trustedPids) == 0 {
		return nil
	}

	entries, err := e.handles.Snapshot(trustedPids)
	if err != nil {
		// Handle Snapshotter failure -> empty initial WL registry, degraded
		// but running (spec.md §4.7).
		return nil
	}
	if len(entries) == 0 {
		return nil
	}

	e.wlMtx.Lock()
	defer e.wlMtx.Unlock()
	for fo, pidSet := range entries {
		dst, ok := e.wl[fo]
		if !ok {
			dst = make(map[uint32]struct{}, len(pidSet))
			e.wl[fo] = dst
		}
		for pid := range pidSet {
			dst[pid] = struct{}{}
		}
	}
	return nil
}

// OnProcessStart handles a ProcessStart record (spec.md §4.1 op 1).
func (e *Engine) OnProcessStart(pid uint32, image string, cmdline string) {
	if e.isTerminal() {
		return
	}
	if !strings.HasSuffix(strings.ToLower(image), ".exe") {
		return
	}
	_, subject, trusted := e.trustForPath(image)

	e.procMtx.Lock()
	e.procCache[pid] = ProcMeta{
		Image:         image,
		ObservedAt:    time.Now(),
		IsTrusted:     trusted,
		SignerSubject: subject,
	}
	e.procMtx.Unlock()
}

// OnFileNameMapping handles a FileNameBind record (spec.md §4.1 op 2).
func (e *Engine) OnFileNameMapping(fileKey uint64, fileName string) {
	if e.isTerminal() {
		return
	}
	e.fileKeyMtx.Lock()
	e.fileKeys[fileKey] = fileName
	e.fileKeyMtx.Unlock()
}

// ClearFileKey removes a File-Key Resolver entry (spec.md §4.1 op 3).
func (e *Engine) ClearFileKey(fileKey uint64) {
	if e.isTerminal() {
		return
	}
	e.fileKeyMtx.Lock()
	delete(e.fileKeys, fileKey)
	e.fileKeyMtx.Unlock()
}

// ResolveFileKey looks up a bound file name (used by tests and R1).
func (e *Engine) ResolveFileKey(fileKey uint64) (string, bool) {
	e.fileKeyMtx.Lock()
	defer e.fileKeyMtx.Unlock()
	name, ok := e.fileKeys[fileKey]
	return name, ok
}

// OnFileAccess is the central decision-tree entry point (spec.md §4.1). It
// performs the event-id dispatch, then, for access events, resolves the
// target, matches it against the protected-rule table, computes trust, and
// emits an alert when appropriate.
func (e *Engine) OnFileAccess(pid uint32, eventID uint16, fileKey, fileObject uint64, inlineName string) {
	if e.isTerminal() {
		return
	}

	switch eventID {
	case EventFileClose1, EventFileClose2:
		e.ClearFileKey(fileKey)
		return
	case EventFileNameBind:
		if fileKey == 0 || inlineName == "" {
			return
		}
		e.OnFileNameMapping(fileKey, inlineName)
		return
	case EventFileAccess:
		// fall through to the decision tree below.
	default:
		return
	}

	target := inlineName
	if target == "" && fileKey != 0 {
		if resolved, ok := e.ResolveFileKey(fileKey); ok {
			target = resolved
		}
	}
	if target == "" {
		return
	}

	ruleName, _, matched := e.matchProtectedRule(target)
	if !matched {
		return
	}

	procImage := e.ResolveProcessImage(pid)

	if e.IsPidTrusted(pid, procImage) {
		if fileObject != 0 {
			e.LearnWhitelistedFileObject(fileObject, pid)
		}
		return
	}

	if fileObject != 0 {
		if owners, ok := e.WhitelistedFileObjectOwner(fileObject); ok && len(owners) > 0 {
			e.Alert(pid, procImage, target, ruleName, eventID,
				alert.KindSuspiciousWhitelistedHandle,
				"untrusted process touched protected resource via whitelisted file object")
			return
		}
	}

	e.Alert(pid, procImage, target, ruleName, eventID,
		alert.KindProtectedResourceAccess,
		"untrusted process attempted access to protected resource")
}

// ResolveProcessImage implements spec.md §4.3.
func (e *Engine) ResolveProcessImage(pid uint32) string {
	if pid == 0 || pid == 4 {
		return "SYSTEM"
	}

	e.procMtx.Lock()
	if meta, ok := e.procCache[pid]; ok && time.Since(meta.ObservedAt) <= imageTTL {
		e.procMtx.Unlock()
		return meta.Image
	}
	e.procMtx.Unlock()

	img, ok := "unknown", false
	if e.images != nil {
		if p, lookedUp := e.images.ImagePath(pid); lookedUp {
			img, ok = p, true
		}
	}
	if !ok {
		img = "unknown"
	}

	e.procMtx.Lock()
	e.procCache[pid] = ProcMeta{
		Image:      img,
		ObservedAt: time.Now(),
		IsTrusted:  false,
	}
	e.procMtx.Unlock()

	return img
}

// matchProtectedRule implements spec.md §4.5: first substring hit wins.
func (e *Engine) matchProtectedRule(path string) (name, substring string, ok bool) {
	e.cfgMtx.RLock()
	rules := e.rules
	e.cfgMtx.RUnlock()

	lower := strings.ToLower(path)
	for _, r := range rules {
		if strings.Contains(lower, r.Substring) {
			return r.Name, r.Substring, true
		}
	}
	return "", "", false
}

// isLegacyAllowlistedProcessName implements the legacy suffix path of
// spec.md §4.4.
func (e *Engine) isLegacyAllowlistedProcessName(procPath string) bool {
	e.cfgMtx.RLock()
	suffixes := e.processNameAllow
	e.cfgMtx.RUnlock()

	lower := strings.ToLower(procPath)
	for _, suffix := range suffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// IsPidTrusted implements spec.md §4.4.
func (e *Engine) IsPidTrusted(pid uint32, procImage string) bool {
	e.procMtx.Lock()
	meta, ok := e.procCache[pid]
	e.procMtx.Unlock()
	if ok && meta.IsTrusted && time.Since(meta.ObservedAt) <= trustTTL {
		return true
	}
	return e.isLegacyAllowlistedProcessName(procImage)
}

// LearnWhitelistedFileObject implements spec.md §4.1 step 4 / §3 WL
// extension. pid 0 and 4 (SYSTEM) are never learned, matching the original
// source's guard.
func (e *Engine) LearnWhitelistedFileObject(fileObject uint64, pid uint32) {
	if fileObject == 0 || pid == 0 || pid == 4 {
		return
	}
	e.wlMtx.Lock()
	defer e.wlMtx.Unlock()
	owners, ok := e.wl[fileObject]
	if !ok {
		owners = make(map[uint32]struct{}, 1)
		e.wl[fileObject] = owners
	}
	owners[pid] = struct{}{}
}

// WhitelistedFileObjectOwner returns a snapshot copy of the owner set for a
// file object, if any.
func (e *Engine) WhitelistedFileObjectOwner(fileObject uint64) (map[uint32]struct{}, bool) {
	e.wlMtx.Lock()
	defer e.wlMtx.Unlock()
	owners, ok := e.wl[fileObject]
	if !ok {
		return nil, false
	}
	out := make(map[uint32]struct{}, len(owners))
	for pid := range owners {
		out[pid] = struct{}{}
	}
	return out, true
}

func dedupeKey(pid uint32, target string) uint64 {
	h := fnv.New64a()
	var buf [4]byte
	buf[0] = byte(pid)
	buf[1] = byte(pid >> 8)
	buf[2] = byte(pid >> 16)
	buf[3] = byte(pid >> 24)
	h.Write(buf[:])
	h.Write([]byte(target))
	return h.Sum64()
}

// shouldSuppress implements spec.md §4.6's dedup/suppression algorithm.
func (e *Engine) shouldSuppress(pid uint32, target string) bool {
	key := dedupeKey(pid, target)
	now := time.Now()

	e.cfgMtx.RLock()
	window := e.suppress
	e.cfgMtx.RUnlock()

	e.alertMtx.Lock()
	defer e.alertMtx.Unlock()

	if prev, ok := e.lastAlert[key]; ok && now.Sub(prev) < window {
		return true
	}
	e.lastAlert[key] = now

	if len(e.lastAlert) > dedupCap {
		retain := window * dedupRetainMultiple
		for k, t := range e.lastAlert {
			if now.Sub(t) >= retain {
				delete(e.lastAlert, k)
			}
		}
	}
	return false
}

// Alert applies suppression and, if not suppressed, dispatches to the sink
// (spec.md §4.1 op 5 / §4.6). Sink-closed is treated as terminal: the engine
// stops accepting new events (spec.md §4.7).
func (e *Engine) Alert(pid uint32, process, target, dataName string, eventID uint16, kind, note string) {
	if e.shouldSuppress(pid, target) {
		return
	}
	if e.sink == nil {
		return
	}
	a := alert.Alert{
		RunID:    e.runID,
		TsUnix:   time.Now().Unix(),
		Pid:      pid,
		Process:  process,
		Target:   target,
		DataName: dataName,
		EventID:  eventID,
		Kind:     kind,
		Note:     note,
	}
	if !e.sink.Send(a) {
		e.terminal.Store(true)
	}
}

// trustForPath implements spec.md §4.2.
func (e *Engine) trustForPath(path string) (signed bool, subject string, trusted bool) {
	if e.trust == nil {
		return false, "", false
	}
	signed, subject = e.trust.Verify(path)
	if !signed {
		return false, "", false
	}

	e.cfgMtx.RLock()
	needles := e.signerSubjectAllow
	e.cfgMtx.RUnlock()

	if len(needles) == 0 {
		return true, subject, true
	}

	subjLower := strings.ToLower(subject)
	for _, needle := range needles {
		if strings.Contains(subjLower, needle) {
			return true, subject, true
		}
	}
	return true, subject, false
}
