// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package runctl

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/grailbio/base/limiter"
	"github.com/grailbio/base/log"
	"github.com/grailbio/daqctl"
	"github.com/grailbio/daqctl/daqrpc"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeouts is the default per-command timeout policy.
var DefaultTimeouts = TimeoutPolicy{
	Default:        60 * time.Second,
	StopAggregator: 120 * time.Second,
	StopBuilder:    45 * time.Second,
	StopOther:      30 * time.Second,
}

// TimeoutPolicy determines the deadline of each remote command.
type TimeoutPolicy struct {
	// Default applies to every command other than stop.
	Default time.Duration
	// StopAggregator applies to stop commands sent to aggregators.
	StopAggregator time.Duration
	// StopBuilder applies to stop commands sent to event builders
	// and to readers serving more than one board.
	StopBuilder time.Duration
	// StopOther applies to all other stop commands.
	StopOther time.Duration
}

// Timeout returns the timeout of transition t sent to process p.
func (p TimeoutPolicy) Timeout(t Transition, proc *daqctl.Process) time.Duration {
	if t != Stop {
		return p.Default
	}
	switch {
	case proc.Kind == daqctl.KindAggregator:
		return p.StopAggregator
	case proc.Kind == daqctl.KindBuilder, proc.Multi():
		return p.StopBuilder
	default:
		return p.StopOther
	}
}

// A Target is the recipient of a command. Reader targets are
// enumerated by board: Board names the board through which the
// reader was reached.
type Target struct {
	Process *daqctl.Process
	Board   *daqctl.Board
	// Arg is the command's argument.
	Arg string
}

func (t Target) String() string {
	if t.Board != nil && t.Process.Multi() {
		return fmt.Sprintf("%s %s (board %s)", t.Process.Label(), t.Process.Addr(), t.Board)
	}
	return fmt.Sprintf("%s %s", t.Process.Label(), t.Process.Addr())
}

// ProcessTargets returns a target for each of the provided
// processes, with an empty argument.
func ProcessTargets(procs []*daqctl.Process) []Target {
	targets := make([]Target, len(procs))
	for i, p := range procs {
		targets[i] = Target{Process: p}
	}
	return targets
}

// BoardTargets returns a target for each of the provided boards,
// addressed to the board's reader process.
func BoardTargets(boards []*daqctl.Board) []Target {
	targets := make([]Target, len(boards))
	for i, b := range boards {
		targets[i] = Target{Process: b.Group.Process, Board: b}
	}
	return targets
}

// Result is the outcome of a single command.
type Result struct {
	Target Target
	// Transition is the command that was sent.
	Transition Transition
	// Reply is the process's reply; it is empty if the command
	// failed.
	Reply string
	// Err is the transport or remote failure, if any.
	Err error
	// Start is the time at which the command was sent.
	Start time.Time
	// Duration is the time taken by the command.
	Duration time.Duration
}

// Dispatcher fans commands out to the processes of a phase, each
// with its own timeout, and waits for all of them to complete.
type Dispatcher struct {
	// Connector reaches remote processes.
	Connector daqrpc.Connector
	// Timeouts is the timeout policy. DefaultTimeouts is used if it
	// is zero.
	Timeouts TimeoutPolicy
	// Limiter bounds the number of outstanding commands. Commands
	// are unbounded if it is nil.
	Limiter *limiter.Limiter
	// Output receives a timestamped line for every result. Results
	// are logged if it is nil.
	Output io.Writer
	// Trace and Tally, if not nil, record every result.
	Trace *Tracer
	Tally *Tally

	mu sync.Mutex
}

// Dispatch issues transition t to the provided targets concurrently,
// and returns one result per command sent, in target order. A reader
// serving several boards is sent the command once: targets for
// boards whose group was already sent the command in this session
// are skipped. Dispatch returns only after every command has
// completed or timed out; failures are reported in the results and
// never abort the remaining commands.
func (d *Dispatcher) Dispatch(ctx context.Context, t Transition, targets []Target) []Result {
	// Decide which targets receive the command before any is sent, so
	// that group flags are only touched here.
	var send []Target
	for _, target := range targets {
		if target.Board != nil && !target.Board.Group.MarkSent() {
			log.Debug.Printf("%s: %s: already sent to group", t, target)
			continue
		}
		send = append(send, target)
	}
	results := make([]Result, len(send))
	var g errgroup.Group
	for i := range send {
		i := i
		g.Go(func() error {
			results[i] = d.send(ctx, t, send[i])
			d.report(results[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Dispatcher) send(ctx context.Context, t Transition, target Target) Result {
	r := Result{Target: target, Transition: t}
	if d.Limiter != nil {
		if err := d.Limiter.Acquire(ctx, 1); err != nil {
			r.Err = err
			return r
		}
		defer d.Limiter.Release(1)
	}
	policy := d.Timeouts
	if policy == (TimeoutPolicy{}) {
		policy = DefaultTimeouts
	}
	ctx, cancel := context.WithTimeout(ctx, policy.Timeout(t, target.Process))
	defer cancel()
	r.Start = time.Now()
	cmd := d.Connector.Connect(target.Process.Addr())
	r.Reply, r.Err = invoke(ctx, cmd, t, target.Arg)
	r.Duration = time.Since(r.Start)
	return r
}

func (d *Dispatcher) report(r Result) {
	d.Trace.Command(r)
	d.Tally.Record(r)
	var line string
	if r.Err != nil {
		line = fmt.Sprintf("%s %s failed after %s: %v", r.Target, r.Transition, r.Duration.Round(time.Millisecond), r.Err)
	} else {
		line = fmt.Sprintf("%s %s: %s", r.Target, r.Transition, r.Reply)
	}
	if d.Output == nil {
		if r.Err != nil {
			log.Error.Print(line)
		} else {
			log.Print(line)
		}
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.Output, "%s %s\n", time.Now().Format("2006-01-02 15:04:05"), line)
}

// Failed returns the results that carry an error.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	return failed
}
