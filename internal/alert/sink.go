/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package alert

import (
	"path/filepath"
	"sync"

	"github.com/titan-softwork/vigil-go/internal/vlog"
)

// Sink is an unbounded, non-blocking producer/single-consumer dispatcher. It
// never blocks the caller and never drops an accepted alert (spec.md §4.6 /
// §5). A slice-backed queue behind a mutex plus a condition signal stands in
// for the "unbounded channel" the spec describes, since a real Go channel
// must be bounded.
type Sink struct {
	mtx    sync.Mutex
	cond   *sync.Cond
	queue  []Alert
	closed bool

	wtr      *logRotator
	jsonl    bool
	log      *vlog.Logger
	wg       sync.WaitGroup
	observer func(Alert)
}

// SetObserver registers a callback invoked from the consumer goroutine once
// per alert, after its line has been handed to the log writer (also when
// that write fails; not when the alert cannot be marshaled). It never runs on the
// caller's Send goroutine, preserving the non-blocking guarantee above.
// Used to wire desktop notification and verbose console echo without the
// engine knowing either exists (SPEC_FULL.md §9).
func (s *Sink) SetObserver(f func(Alert)) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.observer = f
}

// Open creates the alert log (jsonl or human format) at logDir and starts the
// consumer goroutine. maxMB bounds rotation size; 5 compressed generations
// are retained.
func Open(logDir string, jsonl bool, maxMB int64, log *vlog.Logger) (*Sink, error) {
	name := "alerts.log"
	if jsonl {
		name = "alerts.jsonl"
	}
	path := filepath.Join(logDir, name)

	if maxMB <= 0 {
		maxMB = 64
	}
	fr, err := openRotator(path, 0640, maxMB*1024*1024, 5)
	if err != nil {
		return nil, err
	}

	s := &Sink{wtr: fr, jsonl: jsonl, log: log}
	s.cond = sync.NewCond(&s.mtx)
	s.wg.Add(1)
	go s.consume()
	return s, nil
}

// Send enqueues an alert for dispatch. It never blocks and returns false only
// once the sink has been closed, signalling the engine to treat it as
// terminal (spec.md §4.7).
func (s *Sink) Send(a Alert) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.closed {
		return false
	}
	s.queue = append(s.queue, a)
	s.cond.Signal()
	return true
}

func (s *Sink) consume() {
	defer s.wg.Done()
	for {
		s.mtx.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mtx.Unlock()
			return
		}
		batch := s.queue
		s.queue = nil
		s.mtx.Unlock()

		for _, a := range batch {
			s.write(a)
		}
	}
}

func (s *Sink) write(a Alert) {
	var b []byte
	if s.jsonl {
		line, err := a.MarshalJSONLine()
		if err != nil {
			if s.log != nil {
				s.log.Error("failed to marshal alert", vlog.KVErr(err))
			}
			return
		}
		b = append(line, '\n')
	} else {
		b = append([]byte(a.HumanLine()), '\n')
	}
	if _, err := s.wtr.Write(b); err != nil && s.log != nil {
		s.log.Error("failed to write alert", vlog.KVErr(err))
	}

	s.mtx.Lock()
	obs := s.observer
	s.mtx.Unlock()
	if obs != nil {
		obs(a)
	}
}

// Close stops accepting new alerts, drains the queue and closes the
// underlying log file.
func (s *Sink) Close() error {
	s.mtx.Lock()
	s.closed = true
	s.cond.Signal()
	s.mtx.Unlock()
	s.wg.Wait()
	return s.wtr.Close()
}
