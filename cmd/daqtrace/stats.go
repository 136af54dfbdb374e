// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/limitbuf"
	"github.com/grailbio/base/log"
)

// event is a Chrome trace event as written by daqctl -trace.
type event struct {
	Pid  int                    `json:"pid"`
	Tid  int                    `json:"tid"`
	Ts   int64                  `json:"ts"`
	Ph   string                 `json:"ph"`
	Dur  int64                  `json:"dur"`
	Name string                 `json:"name"`
	Cat  string                 `json:"cat"`
	Args map[string]interface{} `json:"args"`
}

// command is a single command sent to a process.
type command struct {
	transition string
	kind       string
	addr       string
	// start is measured as an offset from the start of the trace.
	start    time.Duration
	duration time.Duration
	failed   bool
}

// phase is a sequencer phase.
type phase struct {
	name     string
	start    time.Duration
	duration time.Duration
}

// stat summarizes the commands of one transition sent to processes
// of one kind.
type stat struct {
	transition string
	kind       string
	n, failed  int
	start      time.Duration
	min        time.Duration
	q1, q2, q3 time.Duration
	max        time.Duration
	// slowest is the address of the process that took longest.
	slowest string
}

// trace is a daqctl command trace, interpreted for display.
type trace struct {
	phases   []phase
	commands []command
}

func readTrace(r io.Reader) (*trace, error) {
	var envelope struct {
		TraceEvents []event `json:"traceEvents"`
	}
	if err := json.NewDecoder(r).Decode(&envelope); err != nil {
		return nil, errors.E(errors.Invalid, "decode trace", err)
	}
	return newTrace(envelope.TraceEvents), nil
}

func newTrace(events []event) *trace {
	t := new(trace)
	for _, e := range events {
		if e.Ph != "X" {
			continue
		}
		var (
			start    = time.Duration(e.Ts) * time.Microsecond
			duration = time.Duration(e.Dur) * time.Microsecond
		)
		if e.Cat == "phase" {
			t.phases = append(t.phases, phase{e.Name, start, duration})
			continue
		}
		addr, ok := e.Args["addr"].(string)
		if !ok {
			log.Printf("event without address: %#v", e)
			continue
		}
		_, failed := e.Args["error"]
		t.commands = append(t.commands, command{
			transition: e.Name,
			kind:       e.Cat,
			addr:       addr,
			start:      start,
			duration:   duration,
			failed:     failed,
		})
	}
	sort.SliceStable(t.phases, func(i, j int) bool { return t.phases[i].start < t.phases[j].start })
	return t
}

// Stats returns per-transition, per-kind statistics, ordered by the
// time of the first command of each.
func (t *trace) Stats() []stat {
	type key struct{ transition, kind string }
	type accum struct {
		stat
		durations []time.Duration
		slowest   time.Duration
	}
	accums := make(map[key]*accum)
	for _, c := range t.commands {
		k := key{c.transition, c.kind}
		a, ok := accums[k]
		if !ok {
			a = &accum{stat: stat{transition: c.transition, kind: c.kind, start: c.start}}
			accums[k] = a
		}
		if c.start < a.start {
			a.start = c.start
		}
		a.n++
		if c.failed {
			a.failed++
		}
		if c.duration >= a.slowest {
			a.slowest = c.duration
			a.stat.slowest = c.addr
		}
		a.durations = append(a.durations, c.duration)
	}
	stats := make([]stat, 0, len(accums))
	for _, a := range accums {
		sort.Slice(a.durations, func(i, j int) bool { return a.durations[i] < a.durations[j] })
		// a.durations is non-empty: an accumulator exists only once a
		// command was seen.
		a.q1, a.q2, a.q3 = quartiles(a.durations)
		a.min, a.max = a.durations[0], a.durations[len(a.durations)-1]
		stats = append(stats, a.stat)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].start != stats[j].start {
			return stats[i].start < stats[j].start
		}
		return stats[i].kind < stats[j].kind
	})
	return stats
}

func truncatef(v interface{}) string {
	b := limitbuf.NewLogger(40)
	fmt.Fprint(b, v)
	return b.String()
}
