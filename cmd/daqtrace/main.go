// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command daqtrace summarizes a command trace written by daqctl
// -trace. For each transition and process kind it prints the number
// of commands sent, the number that failed, and the distribution of
// command latencies. Traces whose path ends in ".zst" are zstd
// compressed.
//
//	daqtrace /tmp/run1234.json.zst
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/grailbio/base/compress/zstd"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: daqtrace path\n")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	log.AddFlags()
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
	}
	ctx := context.Background()
	t, err := load(ctx, flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	write(os.Stdout, t)
}

func load(ctx context.Context, path string) (t *trace, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer fileio.CloseAndReport(closer{ctx, f}, &err)
	var r io.Reader = f.Reader(ctx)
	if strings.HasSuffix(path, ".zst") {
		var zr io.ReadCloser
		zr, err = zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer fileio.CloseAndReport(zr, &err)
		r = zr
	}
	return readTrace(r)
}

type closer struct {
	ctx context.Context
	f   file.File
}

func (c closer) Close() error { return c.f.Close(c.ctx) }

func write(w io.Writer, t *trace) {
	var tw tabwriter.Writer
	tw.Init(w, 4, 4, 1, ' ', 0)
	defer tw.Flush()
	fmt.Fprintln(&tw, "phase\tstart\tduration")
	for _, p := range t.phases {
		fmt.Fprintf(&tw, "%s\t%s\t%s\n", p.name, round(p.start), round(p.duration))
	}
	fmt.Fprintln(&tw)
	fmt.Fprintln(&tw, "transition\tkind\tcommands\tfailed\tmin\tq1\tq2\tq3\tmax\tslowest")
	for _, s := range t.Stats() {
		fmt.Fprintf(&tw, "%s\t%s\t%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.transition, s.kind, s.n, s.failed,
			round(s.min), round(s.q1), round(s.q2), round(s.q3), round(s.max),
			truncatef(s.slowest))
	}
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}
