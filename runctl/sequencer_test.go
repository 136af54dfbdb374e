// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package runctl

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/grailbio/base/status"
	"github.com/grailbio/daqctl"
	"github.com/grailbio/daqctl/confgen"
	"github.com/grailbio/daqctl/daqsim"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func newSequencer(t *testing.T, reg *daqctl.Registry, dir string) (*Sequencer, *recorder) {
	t.Helper()
	top, err := daqctl.Compile(reg, daqctl.TopologyOptions{})
	assert.NoError(t, err)
	gen := confgen.NewGenerator(reg, top, confgen.Params{}, nil)
	rec := newRecorder(daqsim.Options{Rate: 1000})
	s := &Sequencer{
		Registry:   reg,
		Cache:      confgen.NewCache(dir, gen),
		Dispatcher: &Dispatcher{Connector: rec, Output: new(bytes.Buffer), Trace: NewTracer(), Tally: NewTally()},
		RunNumber:  "101",
		Status:     new(status.Status),
	}
	return s, rec
}

// expectBefore checks that every command name received by each of
// the processes in first precedes every such command received by
// the processes in second.
func expectBefore(t *testing.T, rec *recorder, name string, first, second []*daqctl.Process) {
	t.Helper()
	if !before(rec, name, first, second) {
		t.Errorf("%s: %v not before %v", name, first, second)
	}
}

func before(rec *recorder, name string, first, second []*daqctl.Process) bool {
	for _, p := range first {
		i := rec.Index(p.Addr(), name)
		if i < 0 {
			return false
		}
		for _, q := range second {
			j := rec.Index(q.Addr(), name)
			if j < 0 || j < i {
				return false
			}
		}
	}
	return true
}

func TestSequencerEndToEnd(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	reg := daqctl.NewRegistry()
	reg.AddBoard(daqctl.Board{Kind: daqctl.V1720, Host: "br1", Port: 5205, ID: 0})
	reg.AddBoard(daqctl.Board{Kind: daqctl.TOY1, Host: "br2", Port: 5206, ID: 1})
	eb := reg.AddBuilder("eb", 5235, daqctl.BuilderOptions{})
	ag := reg.AddAggregator("ag", 5265, daqctl.AggregatorOptions{BunchSize: 1})
	s, rec := newSequencer(t, reg, dir)

	readers := reg.Readers()
	for i, p := range append(readers, eb, ag) {
		expect.EQ(t, p.Rank, i)
	}

	ctx := context.Background()
	for _, tr := range []Transition{Init, Start, Pause, Resume, Stop, Shutdown} {
		assert.NoError(t, s.Run(ctx, tr))
	}
	expect.EQ(t, len(Failed(s.Results)), 0)
	expect.EQ(t, len(s.Results), 6*4)

	var (
		builders = []*daqctl.Process{eb}
		sinks    = []*daqctl.Process{ag}
	)
	// Upstream first.
	for _, name := range []string{"init", "shutdown"} {
		expectBefore(t, rec, name, readers, builders)
		expectBefore(t, rec, name, builders, sinks)
	}
	// Downstream first.
	for _, name := range []string{"start", "pause", "resume"} {
		expectBefore(t, rec, name, sinks, builders)
		expectBefore(t, rec, name, builders, readers)
	}
	// In the order of data flow.
	expectBefore(t, rec, "stop", readers, builders)
	expectBefore(t, rec, "stop", builders, sinks)
	// V172x boards start before toy boards.
	expectBefore(t, rec, "start", readers[:1], readers[1:])

	for _, p := range reg.Processes() {
		expect.EQ(t, rec.Commands(p.Addr()), []string{"init", "start", "pause", "resume", "stop", "shutdown"})
	}
	// The builder followed the whole run.
	sim := rec.procs[eb.Addr()]
	expect.EQ(t, sim.State(), daqsim.Booted)
	expect.EQ(t, sim.Run(), "101")
	if !strings.Contains(s.Dispatcher.Tally.Summary(Stop), "4 ok, 0 failed") {
		t.Errorf("unexpected summary: %s", s.Dispatcher.Tally.Summary(Stop))
	}

	var trace bytes.Buffer
	assert.NoError(t, s.Dispatcher.Trace.Marshal(&trace))
	if !strings.Contains(trace.String(), `"traceEvents"`) {
		t.Errorf("bad trace: %s", trace.String())
	}
}

func TestSequencerInitDocuments(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	reg := daqctl.NewRegistry()
	reg.AddBoard(daqctl.Board{Kind: daqctl.TOY1, Host: "br", Port: 5205, ID: 0})
	eb := reg.AddBuilder("eb", 5235, daqctl.BuilderOptions{})
	s, rec := newSequencer(t, reg, dir)
	assert.NoError(t, s.Run(context.Background(), Init))
	doc := rec.procs[eb.Addr()].Document()
	if doc == "" || doc != eb.Doc.Text {
		t.Errorf("builder initialized with the wrong document:\n%s", doc)
	}
	expect.EQ(t, len(s.Cache.Documents()), 2)
}

func TestSequencerMergedGroupStop(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	reg := daqctl.NewRegistry()
	for i := 0; i < 3; i++ {
		reg.AddBoard(daqctl.Board{Kind: daqctl.TOY1, Host: "br", Port: 5205, ID: i})
	}
	eb := reg.AddBuilder("eb", 5235, daqctl.BuilderOptions{})
	ag := reg.AddAggregator("ag", 5265, daqctl.AggregatorOptions{BunchSize: 1})
	s, rec := newSequencer(t, reg, dir)

	ctx := context.Background()
	for _, tr := range []Transition{Init, Start, Stop} {
		assert.NoError(t, s.Run(ctx, tr))
	}
	reader := reg.Groups[0].Process
	expect.EQ(t, rec.Commands(reader.Addr()), []string{"init", "start", "stop"})
	expectBefore(t, rec, "stop", []*daqctl.Process{reader}, []*daqctl.Process{eb, ag})
	expect.EQ(t, len(Failed(s.Results)), 0)
}

func TestSequencerRunLength(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	reg := daqctl.NewRegistry()
	reg.AddBoard(daqctl.Board{Kind: daqctl.TOY1, Host: "br", Port: 5205, ID: 0})
	reg.AddBuilder("eb", 5235, daqctl.BuilderOptions{})
	ag := reg.AddAggregator("ag", 5265, daqctl.AggregatorOptions{BunchSize: 1})
	s, rec := newSequencer(t, reg, dir)
	s.RunLength = RunLength{Events: 1}
	s.Monitor = &Monitor{
		Connector: s.Dispatcher.Connector,
		Sleep: func(ctx context.Context, d time.Duration) error {
			// Time passes while the monitor sleeps.
			time.Sleep(10 * time.Millisecond)
			return nil
		},
	}
	ctx := context.Background()
	for _, tr := range []Transition{Init, Start, Stop} {
		assert.NoError(t, s.Run(ctx, tr))
	}
	cmds := rec.Commands(ag.Addr())
	if len(cmds) < 4 || cmds[len(cmds)-1] != "stop" || cmds[len(cmds)-2] != "report" {
		t.Errorf("unexpected commands %v", cmds)
	}
}

func TestPhasesSkipEmpty(t *testing.T) {
	reg := daqctl.NewRegistry()
	reg.AddBoard(daqctl.Board{Kind: daqctl.UDP, Host: "br", Port: 5205, ID: 0})
	reg.AddAggregator("ag0", 5265, daqctl.AggregatorOptions{BunchSize: 1})
	reg.AddAggregator("ag1", 5266, daqctl.AggregatorOptions{BunchSize: 1, Dispatcher: true})
	s := &Sequencer{Registry: reg}
	phases, err := s.Phases(Stop)
	assert.NoError(t, err)
	var names []string
	for _, phase := range phases {
		if len(phase.Targets) > 0 {
			names = append(names, phase.Name)
		}
	}
	expect.EQ(t, names, []string{"udp readers", "Aggregator ag0:5265", "Aggregator ag1:5266"})
}
