// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package runctl

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
	"github.com/grailbio/daqctl"
	"github.com/grailbio/daqctl/daqrpc"
)

// RunLength is the configured length of a run: either a number of
// events or a duration. The zero RunLength is unbounded.
type RunLength struct {
	Events   int64
	Duration time.Duration
}

// IsZero tells whether the run length is unbounded.
func (r RunLength) IsZero() bool {
	return r.Events <= 0 && r.Duration <= 0
}

// key returns the report key sampled to measure the run's length,
// and the target value of that sample. Event counts take precedence
// over durations.
func (r RunLength) key() (string, float64) {
	if r.Events > 0 {
		return daqrpc.EventCount, float64(r.Events)
	}
	return daqrpc.RunDuration, r.Duration.Seconds()
}

func (r RunLength) String() string {
	switch {
	case r.Events > 0:
		return fmt.Sprintf("%d events", r.Events)
	case r.Duration > 0:
		return r.Duration.String()
	default:
		return "unbounded"
	}
}

// Monitor bounds, used when the corresponding Monitor fields are
// zero.
const (
	DefaultMinSleep  = 10 * time.Second
	DefaultMaxSleep  = 900 * time.Second
	DefaultBusyPause = 10 * time.Second
)

// Monitor polls a sink process until a run reaches its configured
// length. The interval between polls adapts to the observed rate of
// progress.
type Monitor struct {
	Connector daqrpc.Connector
	// MinSleep and MaxSleep bound the interval between polls.
	MinSleep, MaxSleep time.Duration
	// BusyPause is the pause before a query that was answered with a
	// sentinel value is retried.
	BusyPause time.Duration
	// QueryTimeout is the timeout of each report query. The default
	// timeout policy's default applies if it is zero.
	QueryTimeout time.Duration
	// Sleep pauses for the provided duration. It defaults to a
	// context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Wait returns once the sink's reported progress reaches length.
// Wait alternates between sleeping and querying the sink. A query
// answered with a sentinel value is retried once after a pause;
// queries that fail, or whose retry is still not ready, keep the
// previously observed value. Once two consecutive queries succeed
// with non-zero values showing progress, the next sleep is half of
// the projected time remaining, bounded by MinSleep and MaxSleep;
// otherwise it is MinSleep. Wait returns only when the length is
// reached or the context is done.
func (m *Monitor) Wait(ctx context.Context, sink *daqctl.Process, length RunLength) error {
	if length.IsZero() {
		return nil
	}
	if sink == nil {
		log.Printf("no aggregator is configured: not waiting for run length %s", length)
		return nil
	}
	var (
		key, target = length.key()
		cmd         = m.Connector.Connect(sink.Addr())
		// next is the duration of the next sleep; elapsed is the
		// time slept since the last successful sample.
		next, elapsed time.Duration
		prev          float64
		prevOK        bool
	)
	log.Printf("waiting for %s at %s to reach %s", key, sink, length)
	for {
		if err := m.sleep(ctx, next); err != nil {
			return err
		}
		elapsed += next
		value, ok, pause := m.sample(ctx, cmd, key)
		elapsed += pause
		if !ok {
			value = prev
		}
		if value >= target {
			log.Printf("%s reached %v (target %v)", key, value, target)
			return nil
		}
		next = m.minSleep()
		if ok && prevOK && value > 0 && value > prev && elapsed > 0 {
			rate := (value - prev) / elapsed.Seconds()
			next = m.clamp(time.Duration((target - value) / rate / 2 * float64(time.Second)))
		}
		log.Printf("%s is %v of %v; next check in %s", key, value, target, next)
		if ok {
			elapsed = 0
		}
		prev, prevOK = value, ok && value > 0
	}
}

// sample queries the sink, retrying once after BusyPause if the
// sink answers with a sentinel. Sample returns the pause taken.
func (m *Monitor) sample(ctx context.Context, cmd daqrpc.Commander, key string) (value float64, ok bool, pause time.Duration) {
	reply, err := m.query(ctx, cmd, key)
	if err == nil && daqrpc.NotReady(reply) {
		pause = m.busyPause()
		log.Printf("%s is not ready (%s); retrying in %s", key, strings.TrimSpace(reply), pause)
		if err := m.sleep(ctx, pause); err != nil {
			return 0, false, pause
		}
		reply, err = m.query(ctx, cmd, key)
	}
	switch {
	case err != nil:
		log.Error.Printf("report %s: %v", key, err)
		return 0, false, pause
	case daqrpc.NotReady(reply):
		log.Printf("%s is still not ready", key)
		return 0, false, pause
	}
	value, err = strconv.ParseFloat(strings.TrimSpace(reply), 64)
	if err != nil {
		log.Error.Printf("report %s: bad reply %q: %v", key, reply, err)
		return 0, false, pause
	}
	return value, true, pause
}

func (m *Monitor) query(ctx context.Context, cmd daqrpc.Commander, key string) (string, error) {
	timeout := m.QueryTimeout
	if timeout == 0 {
		timeout = DefaultTimeouts.Default
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return cmd.Report(ctx, key)
}

func (m *Monitor) sleep(ctx context.Context, d time.Duration) error {
	if m.Sleep != nil {
		return m.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	return retry.Wait(ctx, retry.Backoff(d, d, 1), 0)
}

func (m *Monitor) clamp(d time.Duration) time.Duration {
	if min := m.minSleep(); d < min {
		return min
	}
	max := m.MaxSleep
	if max == 0 {
		max = DefaultMaxSleep
	}
	if d > max {
		return max
	}
	return d
}

func (m *Monitor) minSleep() time.Duration {
	if m.MinSleep == 0 {
		return DefaultMinSleep
	}
	return m.MinSleep
}

func (m *Monitor) busyPause() time.Duration {
	if m.BusyPause == 0 {
		return DefaultBusyPause
	}
	return m.BusyPause
}
