// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"sort"
	"testing"
	"time"

	fuzz "github.com/google/gofuzz"
)

func TestQuartiles(t *testing.T) {
	for _, c := range []struct {
		name       string
		ds         []time.Duration
		q1, q2, q3 time.Duration
	}{
		{"One", []time.Duration{7}, 7, 7, 7},
		{"Two", []time.Duration{0, 100}, 0, 50, 100},
		{"ThreeLowSame", []time.Duration{0, 0, 200}, 0, 0, 100},
		{"Three", []time.Duration{0, 100, 200}, 50, 100, 150},
		{"Four", []time.Duration{0, 100, 200, 300}, 50, 150, 250},
		{"Five", []time.Duration{10, 20, 30, 40, 50}, 20, 30, 40},
		{"OddSum", []time.Duration{1, 2}, 1, 1, 2},
		{"Large", []time.Duration{1<<63 - 1, 1<<63 - 1}, 1<<63 - 1, 1<<63 - 1, 1<<63 - 1},
	} {
		t.Run(c.name, func(t *testing.T) {
			q1, q2, q3 := quartiles(c.ds)
			if got, want := []time.Duration{q1, q2, q3}, []time.Duration{c.q1, c.q2, c.q3}; got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
				t.Errorf("got %v, want %v", got, want)
			}
		})
	}
}

// TestQuartilesFuzz checks that quartiles of fuzzed durations are
// ordered and within [min, max].
func TestQuartilesFuzz(t *testing.T) {
	const N = 5000
	f := fuzz.New()
	for i := 0; i < N; i++ {
		var ds []time.Duration
		f.Fuzz(&ds)
		if len(ds) == 0 {
			continue
		}
		sort.Slice(ds, func(i, j int) bool { return ds[i] < ds[j] })
		min, max := ds[0], ds[len(ds)-1]
		q1, q2, q3 := quartiles(ds)
		if q1 < min || q2 < q1 || q3 < q2 || max < q3 {
			t.Fatalf("%v: bad quartiles %v %v %v", ds, q1, q2, q3)
		}
	}
}
