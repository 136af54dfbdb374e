// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package runctl

import (
	"context"
	"fmt"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/eventlog"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/daqctl"
	"github.com/grailbio/daqctl/confgen"
)

// A Phase is a set of commands that are sent concurrently. Phases
// of a transition are run in order; each phase completes before the
// next begins.
type Phase struct {
	Name    string
	Targets []Target
}

// Sequencer drives the pipeline's processes through run-control
// transitions, issuing each transition as an ordered list of
// phases.
type Sequencer struct {
	Registry *daqctl.Registry
	// Cache generates or loads the processes' configuration
	// documents.
	Cache *confgen.Cache
	// Force regenerates every document, even those already present
	// in the cache.
	Force      bool
	Dispatcher *Dispatcher
	// Monitor, if not nil, is used to wait for RunLength before
	// stopping a run.
	Monitor   *Monitor
	RunLength RunLength
	// RunNumber is passed to processes on start.
	RunNumber string
	// Status, if not nil, displays the progress of each transition.
	Status *status.Status
	// Eventer logs the start and end of each transition.
	Eventer eventlog.Eventer

	// Results holds the results of every command sent, in the order
	// in which their phases completed.
	Results []Result
}

// Run issues transition t. Run returns an error only if the
// transition could not be attempted, for example because a
// configuration document could not be produced, or because the
// context was canceled while waiting for the run length. Failures of
// individual commands are reported in s.Results.
func (s *Sequencer) Run(ctx context.Context, t Transition) error {
	s.Registry.ResetSession()
	eventer := s.Eventer
	if eventer == nil {
		eventer = eventlog.Nop{}
	}
	eventer.Event("daqctl:transitionStart", "transition", t.String(), "run", s.RunNumber)
	start := time.Now()
	err := s.run(ctx, t)
	var failed int
	for _, r := range s.Results {
		if r.Transition == t && r.Err != nil {
			failed++
		}
	}
	eventer.Event("daqctl:transitionEnd",
		"transition", t.String(),
		"run", s.RunNumber,
		"failed", failed,
		"durationMs", time.Since(start).Nanoseconds()/1e6)
	return err
}

func (s *Sequencer) run(ctx context.Context, t Transition) error {
	switch t {
	case Generate:
		return s.Generate(ctx)
	case Init:
		if err := s.Generate(ctx); err != nil {
			return err
		}
	case Stop:
		if s.Monitor != nil && !s.RunLength.IsZero() {
			if err := s.Monitor.Wait(ctx, s.Registry.PrimarySink(), s.RunLength); err != nil {
				return errors.E(err, "waiting for run length")
			}
		}
	}
	phases, err := s.Phases(t)
	if err != nil {
		return err
	}
	var group *status.Group
	if s.Status != nil {
		group = s.Status.Groupf("%s run %s", t, s.RunNumber)
	}
	for _, phase := range phases {
		if len(phase.Targets) == 0 {
			continue
		}
		var task *status.Task
		if group != nil {
			task = group.Start(phase.Name)
		}
		start := time.Now()
		results := s.Dispatcher.Dispatch(ctx, t, phase.Targets)
		s.Dispatcher.Trace.Phase(t.String()+" "+phase.Name, start, time.Since(start))
		s.Results = append(s.Results, results...)
		if task != nil {
			task.Printf("%d commands, %d failed", len(results), len(Failed(results)))
			task.Done()
		}
	}
	return nil
}

// Generate produces the configuration document of every process,
// either by generating it or by loading it from the cache.
func (s *Sequencer) Generate(ctx context.Context) error {
	if s.Cache == nil {
		return errors.E(errors.Invalid, "no configuration cache")
	}
	return s.Cache.Load(ctx, s.Registry, s.Force)
}

// Phases returns the phases of transition t.
//
// Processes are initialized and shut down upstream first: readers,
// builders, aggregators, and the routing broker. They are started,
// paused, and resumed downstream first: the broker, aggregators,
// builders, and finally readers, family by family. They are stopped
// in the order of data flow, so that each stage drains before its
// consumers stop; aggregators are stopped one at a time.
func (s *Sequencer) Phases(t Transition) ([]Phase, error) {
	reg := s.Registry
	var (
		readers    = Phase{"readers", BoardTargets(reg.Boards)}
		builders   = Phase{"event builders", ProcessTargets(reg.Builders)}
		aggregator = Phase{"aggregators", ProcessTargets(reg.Aggregators)}
		router     Phase
	)
	if reg.Router != nil {
		router = Phase{"routing master", ProcessTargets([]*daqctl.Process{reg.Router})}
	}
	families := func() []Phase {
		var phases []Phase
		for _, f := range daqctl.Families {
			phases = append(phases, Phase{f.String() + " readers", BoardTargets(reg.BoardsInFamily(f))})
		}
		return phases
	}
	downstreamFirst := func() []Phase {
		return append([]Phase{router, aggregator, builders}, families()...)
	}
	switch t {
	case Init:
		phases := []Phase{readers, builders, aggregator, router}
		for _, phase := range phases {
			for i, target := range phase.Targets {
				if target.Process.Doc == nil {
					return nil, errors.E(fmt.Sprintf("internal error: no document for %s", target.Process))
				}
				phase.Targets[i].Arg = target.Process.Doc.Text
			}
		}
		return phases, nil
	case Start:
		phases := downstreamFirst()
		for _, phase := range phases {
			for i := range phase.Targets {
				phase.Targets[i].Arg = s.RunNumber
			}
		}
		return phases, nil
	case Pause, Resume, Status, LegalCommands:
		return downstreamFirst(), nil
	case Stop:
		phases := append(families(), builders)
		for _, p := range reg.Aggregators {
			phases = append(phases, Phase{p.Label() + " " + p.Addr(), ProcessTargets([]*daqctl.Process{p})})
		}
		return append(phases, router), nil
	case Shutdown:
		return []Phase{readers, builders, aggregator, router}, nil
	default:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("%s has no phases", t))
	}
}

// Summary logs the outcome of transition t.
func (s *Sequencer) Summary(t Transition) {
	var n, failed int
	for _, r := range s.Results {
		if r.Transition != t {
			continue
		}
		n++
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		log.Error.Printf("%s: %d of %d commands failed", t, failed, n)
		return
	}
	log.Printf("%s: %d commands succeeded", t, n)
}
