// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package daqsim implements a simulated acquisition process. A
// simulated process follows the run-control state machine of a real
// process and counts events at a fixed rate while running, but does
// not acquire or move any data. It is used for demonstrations and
// for end-to-end tests of the control plane.
package daqsim

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/sync/ctxsync"
	"github.com/grailbio/daqctl/daqrpc"
)

// State is the run-control state of a process.
type State int

const (
	// Booted is the state of a process that has not been
	// initialized, or has been shut down.
	Booted State = iota
	// Ready is the state of an initialized process that is not
	// running.
	Ready
	Running
	Paused
)

func (s State) String() string {
	switch s {
	case Booted:
		return "booted"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// Success is the reply to a command that was carried out.
const Success = "Success"

// transitions lists the run-control commands in the order in which
// they are reported by LegalCommands, with the states from which
// each is legal and the state it leads to.
var transitions = []struct {
	name string
	from []State
	to   State
}{
	{"init", []State{Booted, Ready}, Ready},
	{"start", []State{Ready}, Running},
	{"pause", []State{Running}, Paused},
	{"resume", []State{Paused}, Running},
	{"stop", []State{Running, Paused}, Ready},
	{"shutdown", []State{Booted, Ready, Running, Paused}, Booted},
}

// Options configures a simulated process.
type Options struct {
	// Rate is the number of events counted per second while the
	// process is running.
	Rate float64
	// BusyReports is the number of report queries at the start of
	// each run that are answered with the busy sentinel.
	BusyReports int
	// Latency is the time taken to carry out each command.
	Latency time.Duration
	// Now returns the current time. It defaults to time.Now.
	Now func() time.Time
}

// Process is a simulated acquisition process. It implements
// daqrpc.Commander and is safe for concurrent use.
type Process struct {
	opts Options

	mu    sync.Mutex
	cond  *ctxsync.Cond
	state State
	doc   string
	run   string
	// started is the time at which the process last entered the
	// running state; elapsed is the running time accumulated before
	// that.
	started  time.Time
	elapsed  time.Duration
	busy     int
	commands []string
}

var _ daqrpc.Commander = (*Process)(nil)

// New returns a new simulated process in the booted state.
func New(opts Options) *Process {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	p := &Process{opts: opts}
	p.cond = ctxsync.NewCond(&p.mu)
	return p
}

// State returns the process's current state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Document returns the document with which the process was last
// initialized.
func (p *Process) Document() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc
}

// Run returns the current or last run number.
func (p *Process) Run() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.run
}

// Commands returns the commands received by the process, in order.
func (p *Process) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}

// WaitState waits until the process enters state s, or the context
// is done.
func (p *Process) WaitState(ctx context.Context, s State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.state != s {
		if err := p.cond.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Process) Init(ctx context.Context, doc string) (string, error) {
	return p.transition(ctx, "init", func() { p.doc = doc })
}

func (p *Process) Start(ctx context.Context, run string) (string, error) {
	return p.transition(ctx, "start", func() {
		p.run = run
		p.elapsed = 0
		p.busy = p.opts.BusyReports
	})
}

func (p *Process) Stop(ctx context.Context) (string, error) {
	return p.transition(ctx, "stop", nil)
}

func (p *Process) Pause(ctx context.Context) (string, error) {
	return p.transition(ctx, "pause", nil)
}

func (p *Process) Resume(ctx context.Context) (string, error) {
	return p.transition(ctx, "resume", nil)
}

func (p *Process) Shutdown(ctx context.Context) (string, error) {
	return p.transition(ctx, "shutdown", func() { p.doc = "" })
}

func (p *Process) Status(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, "status")
	return p.state.String(), nil
}

func (p *Process) LegalCommands(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, "legal_commands")
	var legal []string
	for _, t := range transitions {
		if hasState(t.from, p.state) {
			legal = append(legal, t.name)
		}
	}
	return strings.Join(legal, " "), nil
}

// Report returns the event count or run duration of the current
// run. Processes that have not started a run report the unknown
// sentinel.
func (p *Process) Report(ctx context.Context, key string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, "report "+key)
	if p.run == "" {
		return daqrpc.Unknown, nil
	}
	if p.busy > 0 {
		p.busy--
		return daqrpc.Busy, nil
	}
	elapsed := p.elapsedLocked()
	switch key {
	case daqrpc.EventCount:
		return strconv.FormatInt(int64(p.opts.Rate*elapsed.Seconds()), 10), nil
	case daqrpc.RunDuration:
		return strconv.FormatFloat(elapsed.Seconds(), 'f', 1, 64), nil
	default:
		return "", errors.E(errors.Invalid, fmt.Sprintf("unknown report key %q", key))
	}
}

func (p *Process) elapsedLocked() time.Duration {
	if p.state == Running {
		return p.elapsed + p.opts.Now().Sub(p.started)
	}
	return p.elapsed
}

func (p *Process) transition(ctx context.Context, name string, apply func()) (string, error) {
	if p.opts.Latency > 0 {
		select {
		case <-time.After(p.opts.Latency):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, name)
	for _, t := range transitions {
		if t.name != name {
			continue
		}
		if !hasState(t.from, p.state) {
			return "", errors.E(errors.Invalid, fmt.Sprintf("%s is not legal in state %s", name, p.state))
		}
		if p.state == Running {
			p.elapsed += p.opts.Now().Sub(p.started)
		}
		if apply != nil {
			apply()
		}
		if t.to == Running {
			p.started = p.opts.Now()
		}
		log.Debug.Printf("daqsim: %s: %s -> %s", name, p.state, t.to)
		p.state = t.to
		p.cond.Broadcast()
		return Success, nil
	}
	return "", errors.E(errors.Invalid, fmt.Sprintf("unknown command %q", name))
}

func hasState(states []State, s State) bool {
	for _, t := range states {
		if t == s {
			return true
		}
	}
	return false
}
