// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package daqcmd implements the daqctl command. Main configures the
// run controller from the command line and from a shared
// configuration profile, issues the requested transition to every
// declared process, and reports the outcome.
//
// Integration with other command line processing is best achieved
// using the daqflags package and the Run and DisplayStatus
// functions.
package daqcmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof" // Pprof is included to be exposed on the local diagnostic web server.
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/compress/zstd"
	"github.com/grailbio/base/config"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/base/status"
	"github.com/grailbio/daqctl"
	"github.com/grailbio/daqctl/confgen"
	"github.com/grailbio/daqctl/daqflags"
	"github.com/grailbio/daqctl/daqrpc"
	"github.com/grailbio/daqctl/runctl"
)

// Path determines the location of the configuration profile read by
// Main.
var Path = os.ExpandEnv("$HOME/.daqctl/config")

// Main is the entry point of the daqctl command. Main does not
// return. It parses (global) flags, reads the configuration profile
// at Path, and runs the requested transition.
//
// Main exits with code 1 only if the command could not be attempted,
// for example because of a malformed declaration. Commands that fail
// on individual processes are reported, but do not change the exit
// code.
func Main() {
	var fl daqflags.Flags
	daqflags.RegisterFlags(flag.CommandLine, &fl, "")
	config.RegisterFlags("", Path)
	log.AddFlags()
	flag.Parse()
	must.Nil(config.ProcessFlags())
	var conf *runctl.Config
	config.Must(runctl.ConfigName, &conf)

	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(
			s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})
	client, err := daqrpc.NewClient()
	if err != nil {
		log.Fatal(err)
	}
	if _, err := Run(context.Background(), &fl, conf, client, os.Stdout); err != nil {
		log.Fatal(err)
	}
	os.Exit(0)
}

// Run issues the transition requested by fl to the declared
// processes, reached through conn. Per-command results are written
// to out. Run returns the sequencer so that callers may inspect its
// results; it returns an error only if the transition could not be
// attempted.
func Run(ctx context.Context, fl *daqflags.Flags, conf *runctl.Config, conn daqrpc.Connector, out io.Writer) (*runctl.Sequencer, error) {
	if conf == nil {
		conf = &runctl.Config{Timeouts: runctl.DefaultTimeouts}
	}
	t, err := fl.Transition()
	if err != nil {
		return nil, err
	}
	if err = fl.Load(ctx); err != nil {
		return nil, err
	}
	reg, err := fl.Registry()
	if err != nil {
		return nil, err
	}
	top, err := daqctl.Compile(reg, fl.TopologyOptions())
	if err != nil {
		return nil, err
	}
	if fl.Summary {
		reg.WriteSummary(out)
	}
	parallelism := conf.Parallelism
	if fl.Parallelism > 0 {
		parallelism = fl.Parallelism
	}
	limits := runctl.Config{Parallelism: parallelism}
	dispatcher := &runctl.Dispatcher{
		Connector: conn,
		Timeouts:  conf.Timeouts,
		Limiter:   limits.Limiter(),
		Output:    out,
		Tally:     runctl.NewTally(),
	}
	if fl.Trace != "" {
		dispatcher.Trace = runctl.NewTracer()
	}
	gen := confgen.NewGenerator(reg, top, fl.Params(), confgen.SearchPathFromEnv())
	seq := &runctl.Sequencer{
		Registry:   reg,
		Cache:      confgen.NewCache(fl.CacheDir, gen),
		Force:      fl.Force,
		Dispatcher: dispatcher,
		Monitor: &runctl.Monitor{
			Connector:    conn,
			MinSleep:     conf.MinSleep,
			MaxSleep:     conf.MaxSleep,
			BusyPause:    conf.BusyPause,
			QueryTimeout: conf.Timeouts.Default,
		},
		RunLength: fl.RunLength(),
		RunNumber: fl.RunNumber,
		Status:    new(status.Status),
	}
	DisplayStatus(fl, seq.Status)

	if err = seq.Run(ctx, t); err != nil {
		return seq, err
	}
	seq.Summary(t)
	if counts := dispatcher.Tally.Counts(); len(counts) > 0 {
		fmt.Fprintln(out, dispatcher.Tally.Summary(t))
	}
	if t == runctl.Start && fl.Archive != "" {
		if err := archive(ctx, seq, fl); err != nil {
			log.Error.Printf("archive run %s: %v", fl.RunNumber, err)
		}
	}
	if fl.Trace != "" {
		if err := writeTrace(ctx, fl.Trace, dispatcher.Trace); err != nil {
			log.Error.Printf("write trace %s: %v", fl.Trace, err)
		}
	}
	return seq, nil
}

// archive copies the run's configuration documents to the archive
// prefix. Documents are loaded from the cache if the transition did
// not produce them.
func archive(ctx context.Context, seq *runctl.Sequencer, fl *daqflags.Flags) error {
	if len(seq.Cache.Documents()) == 0 {
		if err := seq.Cache.Load(ctx, seq.Registry, false); err != nil {
			return err
		}
	}
	return confgen.Archive(ctx, fl.Archive, fl.RunNumber, seq.Cache.Documents())
}

// writeTrace writes the command trace to path. Paths ending in
// ".zst" are zstd compressed.
func writeTrace(ctx context.Context, path string, trace *runctl.Tracer) (err error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer fileio.CloseAndReport(fileCloser{ctx, f}, &err)
	w := f.Writer(ctx)
	if !strings.HasSuffix(path, ".zst") {
		return trace.Marshal(w)
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return errors.E(err, "zstd")
	}
	defer fileio.CloseAndReport(zw, &err)
	return trace.Marshal(zw)
}

type fileCloser struct {
	ctx context.Context
	f   file.File
}

func (c fileCloser) Close() error { return c.f.Close(c.ctx) }

// DisplayStatus arranges for the run-control status to be displayed
// on the console and/or a web page depending on the flags specified
// on the command line. The web page is hosted at /debug/status on
// http.DefaultServeMux.
func DisplayStatus(fl *daqflags.Flags, st *status.Status) {
	if fl.ConsoleStatus {
		var console status.Reporter
		go console.Go(os.Stdout, st)
	}
	if len(fl.HTTPAddress.Address) > 0 {
		http.Handle("/debug/status", status.Handler(st))
		go func() {
			log.Printf("HTTP Status at: %v\n", fl.HTTPAddress)
			err := http.ListenAndServe(fl.HTTPAddress.Address, nil)
			if err != nil {
				log.Error.Printf("Failed to start HTTP at: %v: %v\n", fl.HTTPAddress, err)
			}
		}()
	}
}
