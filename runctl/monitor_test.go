// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package runctl

import (
	"context"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/daqctl"
	"github.com/grailbio/daqctl/daqrpc"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

// script is a sink whose report queries are answered from a fixed
// list of replies. An empty reply is answered with an error.
type script struct {
	daqrpc.Commander
	replies []string
	keys    []string
}

func (s *script) Report(ctx context.Context, key string) (string, error) {
	s.keys = append(s.keys, key)
	if len(s.replies) == 0 {
		return "", errors.E(errors.Invalid, "script exhausted")
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	if reply == "" {
		return "", errors.E(errors.Net, "connection reset")
	}
	return reply, nil
}

func runMonitor(t *testing.T, length RunLength, replies ...string) (*script, []time.Duration) {
	t.Helper()
	sink := &script{replies: replies}
	var sleeps []time.Duration
	m := &Monitor{
		Connector: daqrpc.ConnectorFunc(func(string) daqrpc.Commander { return sink }),
		Sleep: func(ctx context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		},
	}
	reg := daqctl.NewRegistry()
	p := reg.AddAggregator("ag", 5265, daqctl.AggregatorOptions{BunchSize: 1})
	assert.NoError(t, m.Wait(context.Background(), p, length))
	return sink, sleeps
}

func TestMonitorQueries(t *testing.T) {
	sink, sleeps := runMonitor(t, RunLength{Events: 100000},
		"busy", "1000", "2000", "", "100000")
	if got, want := len(sink.keys), 5; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	for _, key := range sink.keys {
		expect.EQ(t, key, daqrpc.EventCount)
	}
	want := []time.Duration{
		0,
		10 * time.Second, // busy pause
		10 * time.Second,
		// 100 events/s with 98000 remaining.
		490 * time.Second,
		10 * time.Second,
	}
	expect.EQ(t, sleeps, want)
}

func TestMonitorSleepBounds(t *testing.T) {
	_, sleeps := runMonitor(t, RunLength{Events: 1e9}, "10", "20", "1000000000")
	expect.EQ(t, sleeps, []time.Duration{0, 10 * time.Second, 900 * time.Second})

	_, sleeps = runMonitor(t, RunLength{Events: 1000}, "100", "990", "1000")
	expect.EQ(t, sleeps, []time.Duration{0, 10 * time.Second, 10 * time.Second})
}

func TestMonitorNotReady(t *testing.T) {
	// A sentinel that persists after the retry keeps the previous
	// value; progress is then measured only after two consecutive
	// good samples.
	sink, sleeps := runMonitor(t, RunLength{Duration: time.Hour},
		"60", "-1", "-1", "120", "180", "3600")
	expect.EQ(t, len(sink.keys), 6)
	for _, key := range sink.keys {
		expect.EQ(t, key, daqrpc.RunDuration)
	}
	expect.EQ(t, sleeps, []time.Duration{
		0,
		10 * time.Second,
		10 * time.Second, // busy pause
		10 * time.Second,
		10 * time.Second,
		// 60 seconds of run time per 10 seconds, with 3420 remaining.
		285 * time.Second,
	})
}

func TestMonitorUnbounded(t *testing.T) {
	sink, sleeps := runMonitor(t, RunLength{})
	expect.EQ(t, len(sink.keys), 0)
	expect.EQ(t, len(sleeps), 0)

	m := &Monitor{}
	assert.NoError(t, m.Wait(context.Background(), nil, RunLength{Events: 10}))
}

func TestMonitorCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &script{}
	m := &Monitor{Connector: daqrpc.ConnectorFunc(func(string) daqrpc.Commander { return sink })}
	reg := daqctl.NewRegistry()
	p := reg.AddAggregator("ag", 5265, daqctl.AggregatorOptions{BunchSize: 1})
	if err := m.Wait(ctx, p, RunLength{Events: 10}); err != context.Canceled {
		t.Errorf("got %v, want %v", err, context.Canceled)
	}
}
