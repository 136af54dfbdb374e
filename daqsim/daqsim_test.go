// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package daqsim

import (
	"context"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/daqctl/daqrpc"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

type clock struct{ now time.Time }

func newClock() *clock { return &clock{now: time.Unix(1e9, 0)} }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func report(t *testing.T, p *Process) string {
	t.Helper()
	reply, err := p.Report(context.Background(), daqrpc.EventCount)
	assert.NoError(t, err)
	return reply
}

func TestStateMachine(t *testing.T) {
	ctx := context.Background()
	p := New(Options{})
	legal, err := p.LegalCommands(ctx)
	assert.NoError(t, err)
	expect.EQ(t, legal, "init shutdown")

	if _, err := p.Start(ctx, "1"); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid start, got %v", err)
	}
	for _, step := range []struct {
		do    func(context.Context) (string, error)
		state State
	}{
		{func(ctx context.Context) (string, error) { return p.Init(ctx, "doc") }, Ready},
		{func(ctx context.Context) (string, error) { return p.Start(ctx, "12") }, Running},
		{p.Pause, Paused},
		{p.Resume, Running},
		{p.Stop, Ready},
		{p.Shutdown, Booted},
	} {
		reply, err := step.do(ctx)
		assert.NoError(t, err)
		expect.EQ(t, reply, Success)
		expect.EQ(t, p.State(), step.state)
	}
	expect.EQ(t, p.Run(), "12")
	expect.EQ(t, p.Commands(), []string{"legal_commands", "start", "init", "start", "pause", "resume", "stop", "shutdown"})
}

func TestReport(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	p := New(Options{Rate: 100, BusyReports: 2, Now: c.Now})
	expect.EQ(t, report(t, p), daqrpc.Unknown)

	_, err := p.Init(ctx, "doc")
	assert.NoError(t, err)
	_, err = p.Start(ctx, "1")
	assert.NoError(t, err)
	expect.EQ(t, report(t, p), daqrpc.Busy)
	expect.EQ(t, report(t, p), daqrpc.Busy)
	c.Advance(2 * time.Second)
	expect.EQ(t, report(t, p), "200")

	_, err = p.Pause(ctx)
	assert.NoError(t, err)
	c.Advance(time.Hour)
	expect.EQ(t, report(t, p), "200")
	_, err = p.Resume(ctx)
	assert.NoError(t, err)
	c.Advance(time.Second)
	expect.EQ(t, report(t, p), "300")

	reply, err := p.Report(ctx, daqrpc.RunDuration)
	assert.NoError(t, err)
	expect.EQ(t, reply, "3.0")
	if _, err := p.Report(ctx, "bogus"); err == nil {
		t.Error("expected error")
	}
}

func TestWaitState(t *testing.T) {
	ctx := context.Background()
	p := New(Options{Latency: 10 * time.Millisecond})
	done := make(chan error)
	go func() { done <- p.WaitState(ctx, Ready) }()
	_, err := p.Init(ctx, "doc")
	assert.NoError(t, err)
	assert.NoError(t, <-done)

	cancelCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := p.WaitState(cancelCtx, Running); err != context.Canceled {
		t.Errorf("got %v, want %v", err, context.Canceled)
	}
}
