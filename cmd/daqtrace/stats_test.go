// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/grailbio/daqctl"
	"github.com/grailbio/daqctl/runctl"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestTraceStats(t *testing.T) {
	reg := daqctl.NewRegistry()
	reg.AddBoard(daqctl.Board{Kind: daqctl.TOY1, Host: "br", Port: 5205})
	reg.AddBoard(daqctl.Board{Kind: daqctl.TOY1, Host: "br", Port: 5206})
	eb := reg.AddBuilder("eb", 5235, daqctl.BuilderOptions{})
	readers := reg.Readers()

	tracer := runctl.NewTracer()
	start := time.Now()
	command := func(p *daqctl.Process, t runctl.Transition, offset, dur time.Duration, err error) {
		tracer.Command(runctl.Result{
			Target:     runctl.Target{Process: p},
			Transition: t,
			Reply:      "Success",
			Err:        err,
			Start:      start.Add(offset),
			Duration:   dur,
		})
	}
	tracer.Phase("init readers", start, 30*time.Millisecond)
	command(readers[0], runctl.Init, 0, 10*time.Millisecond, nil)
	command(readers[1], runctl.Init, time.Millisecond, 30*time.Millisecond, errors.New("boom"))
	tracer.Phase("init builders", start.Add(40*time.Millisecond), 20*time.Millisecond)
	command(eb, runctl.Init, 40*time.Millisecond, 20*time.Millisecond, nil)

	var buf bytes.Buffer
	assert.NoError(t, tracer.Marshal(&buf))
	tr, err := readTrace(&buf)
	assert.NoError(t, err)
	expect.EQ(t, len(tr.phases), 2)
	expect.EQ(t, tr.phases[0].name, "init readers")

	stats := tr.Stats()
	if got, want := len(stats), 2; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	r := stats[0]
	expect.EQ(t, r.transition, "init")
	expect.EQ(t, r.kind, "BoardReader")
	expect.EQ(t, r.n, 2)
	expect.EQ(t, r.failed, 1)
	expect.EQ(t, r.min, 10*time.Millisecond)
	expect.EQ(t, r.q2, 20*time.Millisecond)
	expect.EQ(t, r.max, 30*time.Millisecond)
	expect.EQ(t, r.slowest, "br:5206")
	b := stats[1]
	expect.EQ(t, b.kind, "EventBuilder")
	expect.EQ(t, b.start, 40*time.Millisecond)

	var out bytes.Buffer
	write(&out, tr)
	if !strings.Contains(out.String(), "EventBuilder") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestReadTraceError(t *testing.T) {
	if _, err := readTrace(strings.NewReader("{")); err == nil {
		t.Error("expected error")
	}
}
