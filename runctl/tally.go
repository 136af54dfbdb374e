// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package runctl

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grailbio/base/errors"
)

// Counts is a snapshot of a tally, keyed by transition and outcome,
// for example "stop.ok" or "init.timeout".
type Counts map[string]int64

// String returns the counts sorted by key.
func (c Counts) String() string {
	keys := make([]string, 0, len(c))
	for key := range c {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for i, key := range keys {
		keys[i] = fmt.Sprintf("%s:%d", key, c[key])
	}
	return strings.Join(keys, " ")
}

// A Tally counts command outcomes per transition, and tracks the
// slowest command of each. A nil Tally ignores results.
type Tally struct {
	mu      sync.Mutex
	counts  Counts
	slowest map[Transition]Result
}

// NewTally returns an empty tally.
func NewTally() *Tally {
	return &Tally{counts: make(Counts), slowest: make(map[Transition]Result)}
}

// Record adds the result r to the tally.
func (t *Tally) Record(r Result) {
	if t == nil {
		return
	}
	outcome := "ok"
	switch {
	case r.Err == nil:
	case errors.Is(errors.Timeout, r.Err):
		outcome = "timeout"
	default:
		outcome = "failed"
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[r.Transition.String()+"."+outcome]++
	if slow, ok := t.slowest[r.Transition]; !ok || r.Duration > slow.Duration {
		t.slowest[r.Transition] = r
	}
}

// Counts returns a snapshot of the tally's counts.
func (t *Tally) Counts() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := make(Counts, len(t.counts))
	for k, v := range t.counts {
		c[k] = v
	}
	return c
}

// Slowest returns the slowest command recorded for transition tr.
func (t *Tally) Slowest(tr Transition) (Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.slowest[tr]
	return r, ok
}

// Summary returns a one-line summary of transition tr.
func (t *Tally) Summary(tr Transition) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	name := tr.String()
	s := fmt.Sprintf("%s: %d ok, %d failed, %d timed out", name,
		t.counts[name+".ok"], t.counts[name+".failed"], t.counts[name+".timeout"])
	if slow, ok := t.slowest[tr]; ok {
		s += fmt.Sprintf("; slowest %s (%s)", slow.Target, slow.Duration.Round(time.Millisecond))
	}
	return s
}
