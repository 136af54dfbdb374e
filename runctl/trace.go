// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package runctl

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// traceEvent is an event in the Chrome tracing format. For details, see:
//	https://docs.google.com/document/d/1CvAClvFfyA5R-PhYUmn5OOQtYMH4h6I0nSsKchNAySU/preview
type traceEvent struct {
	Pid  int                    `json:"pid"`
	Tid  int                    `json:"tid"`
	Ts   int64                  `json:"ts"`
	Ph   string                 `json:"ph"`
	Dur  int64                  `json:"dur,omitempty"`
	Name string                 `json:"name"`
	Cat  string                 `json:"cat,omitempty"`
	Args map[string]interface{} `json:"args"`
}

// A Tracer records the timing of phases and commands in the Chrome
// tracing format, so that a sequence of transitions can be inspected
// with chrome://tracing. Each host is rendered as a "process";
// phases are rendered on the control process, pid 0.
//
// Commands that overlap on the same host are placed on separate
// virtual threads, so that concurrent commands are shown on their
// own rows. A nil Tracer records nothing.
type Tracer struct {
	mu     sync.Mutex
	events []traceEvent
	pids   map[string]int
	// lanes holds, for each pid, the end time of the last event on
	// each virtual thread.
	lanes map[int][]int64
}

// NewTracer returns a new, empty tracer.
func NewTracer() *Tracer {
	return &Tracer{
		pids:  make(map[string]int),
		lanes: make(map[int][]int64),
	}
}

// Phase records a sequencer phase that started at start and took
// dur.
func (t *Tracer) Phase(name string, start time.Time, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(0, traceEvent{Name: name, Cat: "phase"}, start, dur)
}

// Command records the command described by r.
func (t *Tracer) Command(r Result) {
	if t == nil {
		return
	}
	p := r.Target.Process
	args := map[string]interface{}{
		"process": p.Label(),
		"addr":    p.Addr(),
		"rank":    p.Rank,
	}
	if r.Err != nil {
		args["error"] = r.Err.Error()
	} else {
		args["reply"] = r.Reply
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	pid, ok := t.pids[p.Host]
	if !ok {
		pid = len(t.pids) + 1
		t.pids[p.Host] = pid
		t.events = append(t.events, traceEvent{
			Pid:  pid,
			Ph:   "M",
			Name: "process_name",
			Args: map[string]interface{}{"name": p.Host},
		})
	}
	t.add(pid, traceEvent{Name: r.Transition.String(), Cat: p.Kind.String(), Args: args}, r.Start, r.Duration)
}

// add appends a complete event, assigning it the first virtual
// thread of pid that is free at the event's start.
func (t *Tracer) add(pid int, event traceEvent, start time.Time, dur time.Duration) {
	event.Pid = pid
	event.Ph = "X"
	// Timestamps are absolute until the trace is marshaled.
	event.Ts = start.UnixNano() / 1e3
	event.Dur = dur.Nanoseconds() / 1e3
	if event.Dur == 0 {
		event.Dur = 1
	}
	if event.Args == nil {
		event.Args = map[string]interface{}{}
	}
	lanes := t.lanes[pid]
	tid := -1
	for i, end := range lanes {
		if end <= event.Ts {
			tid = i
			break
		}
	}
	if tid < 0 {
		tid = len(lanes)
		lanes = append(lanes, 0)
	}
	lanes[tid] = event.Ts + event.Dur
	t.lanes[pid] = lanes
	// Thread IDs are 1-indexed.
	event.Tid = tid + 1
	t.events = append(t.events, event)
}

// Marshal writes the trace captured by t into the writer w in
// Chrome's event tracing format.
func (t *Tracer) Marshal(w io.Writer) error {
	t.mu.Lock()
	events := make([]traceEvent, len(t.events))
	copy(events, t.events)
	t.mu.Unlock()
	// Offset timestamps from the earliest event, so that the trace
	// begins at zero.
	var first int64
	for _, event := range events {
		if event.Ph != "M" && (first == 0 || event.Ts < first) {
			first = event.Ts
		}
	}
	for i := range events {
		if events[i].Ph != "M" {
			events[i].Ts -= first
		}
	}
	envelope := struct {
		TraceEvents []traceEvent `json:"traceEvents"`
	}{events}
	return json.NewEncoder(w).Encode(envelope)
}
