// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package runctl

import (
	"time"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/limiter"
)

// ConfigName is the name of the runctl configuration instance.
const ConfigName = "daqctl/runctl"

// Config holds the tunables of the run controller, as provided by
// the configuration instance ConfigName.
type Config struct {
	// Timeouts is the per-command timeout policy.
	Timeouts TimeoutPolicy
	// Parallelism bounds the number of outstanding commands; zero
	// means unbounded.
	Parallelism int
	// MinSleep, MaxSleep and BusyPause configure the run-length
	// monitor.
	MinSleep, MaxSleep, BusyPause time.Duration
}

// Limiter returns a limiter that admits c.Parallelism commands, or
// nil if parallelism is unbounded.
func (c *Config) Limiter() *limiter.Limiter {
	if c.Parallelism <= 0 {
		return nil
	}
	lim := limiter.New()
	lim.Release(c.Parallelism)
	return lim
}

func init() {
	config.Register(ConfigName, func(inst *config.Constructor) {
		var (
			timeout, stopAggregator, stopBuilder, stopOther int
			minSleep, maxSleep, busyPause                   int
			conf                                            Config
		)
		inst.IntVar(&timeout, "timeout", int(DefaultTimeouts.Default/time.Second), "default command timeout, in seconds")
		inst.IntVar(&stopAggregator, "stop-aggregator-timeout", int(DefaultTimeouts.StopAggregator/time.Second), "aggregator stop timeout, in seconds")
		inst.IntVar(&stopBuilder, "stop-builder-timeout", int(DefaultTimeouts.StopBuilder/time.Second), "event builder and multi-board reader stop timeout, in seconds")
		inst.IntVar(&stopOther, "stop-timeout", int(DefaultTimeouts.StopOther/time.Second), "stop timeout of other processes, in seconds")
		inst.IntVar(&conf.Parallelism, "parallelism", 0, "maximum number of outstanding commands; 0 is unbounded")
		inst.IntVar(&minSleep, "monitor-min-sleep", int(DefaultMinSleep/time.Second), "minimum run-length polling interval, in seconds")
		inst.IntVar(&maxSleep, "monitor-max-sleep", int(DefaultMaxSleep/time.Second), "maximum run-length polling interval, in seconds")
		inst.IntVar(&busyPause, "monitor-busy-pause", int(DefaultBusyPause/time.Second), "pause before retrying a busy report query, in seconds")
		inst.Doc = "daqctl/runctl configures run-control timeouts, parallelism, and run-length polling"
		inst.New = func() (interface{}, error) {
			conf.Timeouts = TimeoutPolicy{
				Default:        time.Duration(timeout) * time.Second,
				StopAggregator: time.Duration(stopAggregator) * time.Second,
				StopBuilder:    time.Duration(stopBuilder) * time.Second,
				StopOther:      time.Duration(stopOther) * time.Second,
			}
			conf.MinSleep = time.Duration(minSleep) * time.Second
			conf.MaxSleep = time.Duration(maxSleep) * time.Second
			conf.BusyPause = time.Duration(busyPause) * time.Second
			c := conf
			return &c, nil
		}
	})
}
