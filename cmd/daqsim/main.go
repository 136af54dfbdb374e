// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command daqsim serves a simulated pipeline process. It accepts the
// run-control commands issued by daqctl, follows the process state
// machine, and reports event counts at a fixed rate. It is useful
// for exercising daqctl without front-end hardware.
package main

import (
	"flag"
	"net/http"
	"time"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/log"
	"github.com/grailbio/daqctl/daqrpc"
	"github.com/grailbio/daqctl/daqsim"
)

func main() {
	var (
		addr    cmdutil.NetworkAddressFlag
		rate    = flag.Float64("rate", 1000, "events counted per second while running")
		busy    = flag.Int("busy", 0, "number of report queries per run answered with the busy sentinel")
		latency = flag.Duration("latency", 0, "time taken to carry out each command")
	)
	flag.Var(&addr, "addr", "address on which to serve commands")
	addr.Set(":5200")
	addr.Specified = false
	log.AddFlags()
	flag.Parse()

	sim := daqsim.New(daqsim.Options{
		Rate:        *rate,
		BusyReports: *busy,
		Latency:     *latency,
	})
	handler, err := daqrpc.NewHandler(sim)
	if err != nil {
		log.Fatal(err)
	}
	srv := &http.Server{
		Addr:        addr.Address,
		Handler:     handler,
		ReadTimeout: time.Minute,
	}
	log.Printf("daqsim: serving on %s", addr.Address)
	log.Fatal(srv.ListenAndServe())
}
